package httpd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/antgroup/hugescm/internal/lfsobj"
	"github.com/antgroup/hugescm/internal/repohub"
	"github.com/antgroup/hugescm/internal/transfer"
)

const (
	contentTypeUploadPackAdvertisement  = "application/x-git-upload-pack-advertisement"
	contentTypeReceivePackAdvertisement = "application/x-git-receive-pack-advertisement"
	contentTypeUploadPackResult         = "application/x-git-upload-pack-result"
	contentTypeReceivePackResult        = "application/x-git-receive-pack-result"
)

// BlobSigner signs a blob-bucket key into a short-lived URL an LFS client
// can GET/PUT directly, handed to lfsobj.BuildBatchResponse as its
// URLSigner. Kept abstract here — the concrete implementation lives with
// whichever blobstore backend (S3/GCS) the deployment configures.
type BlobSigner = lfsobj.URLSigner

// Server is githost-serve's HTTP composition root: one gorilla/mux router
// dispatching Smart-HTTP and LFS batch requests against a repohub.Hub,
// gated by an Authenticator. Grounded on pkg/serve/httpserver.Server's
// shape (embedded *http.Server, one mux.Router, ServeHTTP wrapping every
// request in the tracked reader/writer pair for logResponse).
type Server struct {
	auth    *Authenticator
	hub     *repohub.Hub
	caps    transfer.SessionCaps
	lfsSign BlobSigner

	srv *http.Server
	r   *mux.Router
}

// Config bundles everything New needs beyond the Authenticator and Hub —
// split out so callers (cmd/githost-serve) can build it straight from
// internal/config.ServerConfig.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	SessionCaps  transfer.SessionCaps
	LFSSign      BlobSigner
}

func New(cfg Config, auth *Authenticator, hub *repohub.Hub) *Server {
	s := &Server{
		auth:    auth,
		hub:     hub,
		caps:    cfg.SessionCaps,
		lfsSign: cfg.LFSSign,
		srv: &http.Server{
			Addr:         cfg.Listen,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
	s.srv.Handler = s
	s.mount()
	return s
}

func (s *Server) mount() {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/{namespace}/{repo}/info/refs", s.handleInfoRefs).Methods(http.MethodGet)
	r.HandleFunc("/{namespace}/{repo}/git-upload-pack", s.handleUploadPack).Methods(http.MethodPost)
	r.HandleFunc("/{namespace}/{repo}/git-receive-pack", s.handleReceivePack).Methods(http.MethodPost)
	r.HandleFunc("/{namespace}/{repo}/info/lfs/objects/batch", s.handleLFSBatch).Methods(http.MethodPost)
	s.r = r
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL != nil {
		r.URL.Path = path.Clean(r.URL.Path)
	}
	tr := newTrackedReader(r.Body)
	r.Body = tr
	hw := NewResponseWriter(w, r)
	start := time.Now()
	s.r.ServeHTTP(hw, r)
	logResponse(hw, r, tr, time.Since(start))
}

func repoVars(r *http.Request) (namespace, repo string) {
	v := mux.Vars(r)
	return v["namespace"], v["repo"]
}

// handleInfoRefs serves the ref advertisement that opens every Smart-HTTP
// session, branching on ?service= exactly as git's own smart-http-backend
// does. An unrecognized or missing service value falls back to the dumb
// protocol's 403, since this system never implements dumb HTTP.
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	namespace, repo := repoVars(r)
	service := r.URL.Query().Get("service")

	var op Operation
	var contentType, serviceName string
	switch service {
	case "git-upload-pack":
		op, contentType, serviceName = OperationDownload, contentTypeUploadPackAdvertisement, "git-upload-pack"
	case "git-receive-pack":
		op, contentType, serviceName = OperationUpload, contentTypeReceivePackAdvertisement, "git-receive-pack"
	default:
		renderError(w, http.StatusForbidden, "dumb protocol http is not supported")
		return
	}

	req, err := s.auth.Authenticate(w, r, namespace, repo, op)
	if err != nil {
		return
	}
	handle, err := s.hub.Open(r.Context(), req.RepoID)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	refs, err := transfer.BuildRefAdvertisement(r.Context(), refLister{handle.Refs}, req.RepoID)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := transfer.WriteRefAdvertisement(w, serviceName, refs); err != nil {
		logrus.Errorf("httpd: write ref advertisement: %v", err)
	}
}

// handleUploadPack runs one fetch/clone negotiation round: parse wants/
// haves, compute the reachable-minus-common pack, stream it back
// side-band-64k-framed.
func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	namespace, repo := repoVars(r)
	req, err := s.auth.Authenticate(w, r, namespace, repo, OperationDownload)
	if err != nil {
		return
	}
	handle, err := s.hub.Open(r.Context(), req.RepoID)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	upReq, err := transfer.ParseUploadPackRequest(r.Body, s.caps)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	pack, _, err := transfer.NegotiateAndPack(r.Context(), handle.Objects, upReq)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeUploadPackResult)
	if err := transfer.WriteUploadPackResponse(w, upReq, pack); err != nil {
		logrus.Errorf("httpd: write upload-pack response: %v", err)
	}
}

// handleReceivePack runs one push: parse ref-update commands, unpack the
// thin pack, classify and apply the commands (atomically, in one
// transaction, if the client requested the `atomic` capability), and
// report the per-command outcome in report-status v1 format.
func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	namespace, repo := repoVars(r)
	req, err := s.auth.Authenticate(w, r, namespace, repo, OperationUpload)
	if err != nil {
		return
	}
	handle, err := s.hub.Open(r.Context(), req.RepoID)
	if err != nil {
		renderInternalError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		renderErrorf(w, http.StatusBadRequest, "read request body: %v", err)
		return
	}
	cmdEnd, cmds, atomic, err := splitReceivePackBody(body)
	if err != nil {
		renderInternalError(w, err)
		return
	}

	n, unpackErr := transfer.UnpackObjects(r.Context(), handle.Objects, body[cmdEnd:])
	logrus.Debugf("httpd: receive-pack unpacked %d objects for repo %d", n, req.RepoID)

	var statuses []transfer.CommandStatus
	if unpackErr == nil {
		statuses = transfer.ApplyCommands(r.Context(), handle.Refs, handle.Objects, req.RepoID, cmds, atomic)
	}

	w.Header().Set("Content-Type", contentTypeReceivePackResult)
	if err := transfer.WriteReportStatus(w, unpackErr, statuses); err != nil {
		logrus.Errorf("httpd: write report-status: %v", err)
	}
}

// splitReceivePackBody parses the pkt-line command list off the front of
// a receive-pack request body and returns the byte offset the pack data
// starts at, since transfer.ParseReceivePackCommands consumes a reader
// but the pack bytes after it must be handed to UnpackObjects whole.
func splitReceivePackBody(body []byte) (int, []transfer.Command, bool, error) {
	r := &countingReader{data: body}
	cmds, atomic, err := transfer.ParseReceivePackCommands(r)
	if err != nil {
		return 0, nil, false, err
	}
	return r.pos, cmds, atomic, nil
}

type countingReader struct {
	data []byte
	pos  int
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.pos:])
	c.pos += n
	return n, nil
}

// handleLFSBatch serves the LFS batch API's single endpoint, signing
// per-object upload/download URLs against the Hub's shared blob bucket.
// The requested operation decides which permission to check: a download
// batch only needs read access, an upload batch needs write access.
func (s *Server) handleLFSBatch(w http.ResponseWriter, r *http.Request) {
	namespace, repo := repoVars(r)

	var batchReq lfsobj.BatchRequest
	if err := decodeJSON(r.Body, &batchReq); err != nil {
		renderError(w, http.StatusUnprocessableEntity, fmt.Sprintf("malformed batch request: %v", err))
		return
	}
	op := OperationDownload
	if batchReq.Operation == lfsobj.OperationUpload {
		op = OperationUpload
	}
	req, err := s.auth.Authenticate(w, r, namespace, repo, op)
	if err != nil {
		return
	}

	resp, err := lfsobj.BuildBatchResponse(r.Context(), s.hub.Bucket(), s.lfsSign, s.hub.LFSPrefix(req.RepoID), batchReq)
	if err != nil {
		renderInternalError(w, err)
		return
	}
	jsonEncode(w, resp)
}
