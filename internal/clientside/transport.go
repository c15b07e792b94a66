// Package clientside implements the client half of the Smart-HTTP v1
// wire protocol: a Transport that negotiates a fetch or push against a
// remote githost-serve endpoint, plus the Fetch/Push/Mirror orchestration
// built on top of it.
//
// Grounded on pkg/transport/http/base.go's client shape (one *http.Client
// with a hardened Transport, auth header injection per request, a
// redirect policy that never silently follows a cross-host redirect) and
// pkg/transport/http/push.go's request-building style, retargeted from
// the teacher's private Zeta-Protocol headers/JSON bodies to real Git
// Smart-HTTP pkt-line framing.
package clientside

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/transfer"
	"github.com/antgroup/hugescm/pkg/version"
)

var dialer = net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// Credentials is the Basic or Bearer credential a Transport attaches to
// every outgoing request.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c *Credentials) header() (string, string) {
	if c == nil {
		return "", ""
	}
	if c.Token != "" {
		return "Authorization", "Bearer " + c.Token
	}
	if c.Username != "" || c.Password != "" {
		return "Authorization", basicAuthHeader(c.Username, c.Password)
	}
	return "", ""
}

// Transport is one remote githost-serve repository endpoint: base URL
// plus the credential used to authenticate every request against it.
type Transport struct {
	client      *http.Client
	baseURL     *url.URL
	credentials *Credentials
	insecureTLS bool
}

// New builds a Transport against rawURL (e.g.
// "https://host/namespace/repo"), every request carrying creds.
func New(rawURL string, creds *Credentials, insecureSkipTLS bool) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ierr.MalformedInput("clientside: bad endpoint %q: %v", rawURL, err)
	}
	return &Transport{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecureSkipTLS},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:     u,
		credentials: creds,
		insecureTLS: insecureSkipTLS,
	}, nil
}

func (t *Transport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *t.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "githost-client/"+version.GetVersion())
	if k, v := t.credentials.header(); k != "" {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (t *Transport) do(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, ierr.Wrap(ierr.KindTransient, "clientside: request failed", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, remoteError(resp)
	}
	return resp, nil
}

func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ierr.NotFound("clientside: remote returned 404: %s", msg)
	case http.StatusUnprocessableEntity:
		return ierr.MalformedInput("clientside: remote returned 422: %s", msg)
	case http.StatusConflict:
		return ierr.Conflict("clientside: remote returned 409: %s", msg)
	case http.StatusForbidden, http.StatusUnauthorized:
		return ierr.Permission("clientside: remote returned %d: %s", resp.StatusCode, msg)
	case http.StatusRequestEntityTooLarge:
		return ierr.Capacity("clientside: remote returned 413: %s", msg)
	default:
		return ierr.Transient("clientside: remote returned %d: %s", resp.StatusCode, msg)
	}
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// RemoteRefs fetches and parses the info/refs advertisement for service
// ("git-upload-pack" or "git-receive-pack").
func (t *Transport) RemoteRefs(ctx context.Context, service string) ([]transfer.RefAdvertisement, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "info/refs?service="+service, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ParseRefAdvertisement(resp.Body)
}

// FetchPack negotiates and retrieves one pack covering every object
// reachable from wants but not from haves.
func (t *Transport) FetchPack(ctx context.Context, wants, haves []objfmt.Hash) (UploadPackResult, error) {
	var body bytes.Buffer
	if err := WriteUploadPackRequest(&body, wants, haves); err != nil {
		return UploadPackResult{}, err
	}
	req, err := t.newRequest(ctx, http.MethodPost, "git-upload-pack", &body)
	if err != nil {
		return UploadPackResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	resp, err := t.do(req)
	if err != nil {
		return UploadPackResult{}, err
	}
	defer resp.Body.Close()
	return ParseUploadPackResponse(resp.Body)
}

// PushPack sends a ref-update command list plus the pack satisfying it,
// returning each command's individual report-status outcome.
func (t *Transport) PushPack(ctx context.Context, cmds []transfer.Command, pack []byte) ([]transfer.CommandStatus, error) {
	var body bytes.Buffer
	if err := WriteReceivePackRequest(&body, cmds, pack); err != nil {
		return nil, err
	}
	req, err := t.newRequest(ctx, http.MethodPost, "git-receive-pack", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-git-receive-pack-request")
	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ParseReportStatus(resp.Body)
}
