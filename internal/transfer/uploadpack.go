package transfer

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objwalk"
	"github.com/antgroup/hugescm/internal/packfmt"
	"github.com/antgroup/hugescm/internal/pktline"
)

// UploadPackRequest is one client negotiation round's parsed input (the
// whole request body for v1, which has no true multi-round HTTP exchange
// — the "rounds" in spec.md's session caps refer to want/have groups
// within a single POST body, matching Git's stateless-rpc behavior).
type UploadPackRequest struct {
	Wants    []objfmt.Hash
	Haves    []objfmt.Hash
	Done     bool
	Shallow  []objfmt.Hash
	DeepenTo int
}

// ParseUploadPackRequest reads pkt-lines until a flush terminates the
// want/have list, enforcing SessionCaps along the way.
func ParseUploadPackRequest(r io.Reader, caps SessionCaps) (UploadPackRequest, error) {
	var req UploadPackRequest
	scanner := pktline.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSuffix(string(scanner.Packet().Payload), "\n")
		switch {
		case strings.HasPrefix(line, "want "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return UploadPackRequest{}, ierr.MalformedInput("upload-pack: malformed want line %q", line)
			}
			h, err := objfmt.NewHashEx(fields[1])
			if err != nil {
				return UploadPackRequest{}, ierr.MalformedInput("upload-pack: bad want hash %q", fields[1])
			}
			if len(req.Wants) >= caps.MaxWants {
				return UploadPackRequest{}, ierr.Capacity("upload-pack: too many wants, max %d", caps.MaxWants)
			}
			req.Wants = append(req.Wants, h)
		case strings.HasPrefix(line, "have "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return UploadPackRequest{}, ierr.MalformedInput("upload-pack: malformed have line %q", line)
			}
			h, err := objfmt.NewHashEx(fields[1])
			if err != nil {
				return UploadPackRequest{}, ierr.MalformedInput("upload-pack: bad have hash %q", fields[1])
			}
			if len(req.Haves) >= caps.MaxHavesPerRound {
				return UploadPackRequest{}, ierr.Capacity("upload-pack: too many haves, max %d", caps.MaxHavesPerRound)
			}
			req.Haves = append(req.Haves, h)
		case strings.HasPrefix(line, "shallow "):
			fields := strings.Fields(line)
			if h, err := objfmt.NewHashEx(fields[1]); err == nil {
				req.Shallow = append(req.Shallow, h)
			}
		case line == "done":
			req.Done = true
		}
	}
	if err := scanner.Err(); err != nil {
		return UploadPackRequest{}, err
	}
	return req, nil
}

// ObjectStore is the subset of internal/objstore upload-pack needs to
// walk the graph and read blob/commit/tree/tag payloads.
type ObjectStore interface {
	Get(ctx context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error)
	Has(ctx context.Context, h objfmt.Hash) (bool, error)
}

type objwalkAdapter struct {
	ctx context.Context
	os  ObjectStore
}

func (a objwalkAdapter) Get(_ context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	return a.os.Get(a.ctx, h)
}

// NegotiateAndPack computes the object set reachable from wants but not
// from haves, and serializes it as a complete pack — the "fixed-point
// over reachability" spec.md describes, expressed here as one BFS rooted
// at wants that simply never enqueues anything already marked common.
func NegotiateAndPack(ctx context.Context, store ObjectStore, req UploadPackRequest) ([]byte, []objfmt.Hash, error) {
	common := make(map[objfmt.Hash]bool, len(req.Haves)*4)
	adapter := objwalkAdapter{ctx: ctx, os: store}
	if len(req.Haves) > 0 {
		_ = objwalk.Walk(ctx, adapter, req.Haves, func(h objfmt.Hash, _ objfmt.ObjectType, _ []byte) {
			common[h] = true
		})
	}

	var objs []packfmt.Object
	var hashes []objfmt.Hash
	err := objwalk.Walk(ctx, adapter, req.Wants, func(h objfmt.Hash, typ objfmt.ObjectType, payload []byte) {
		if common[h] {
			return
		}
		objs = append(objs, packfmt.Object{Kind: typ, Payload: payload})
		hashes = append(hashes, h)
	})
	if err != nil {
		return nil, nil, err
	}

	pack, _, err := packfmt.Write(objs)
	if err != nil {
		return nil, nil, err
	}
	return pack, hashes, nil
}

// WriteUploadPackResponse frames the ACK/NAK handshake and the pack
// itself (wrapped in side-band-64k channel 1) as the upload-pack
// response body. The handshake line is NAK whenever the computed pack
// carries no objects — including a no-op fetch where Haves already
// covers every Want — not merely when Haves is empty, matching spec.md's
// clone-then-no-op-fetch scenario (NAK followed by an empty pack).
func WriteUploadPackResponse(w io.Writer, req UploadPackRequest, pack []byte) error {
	hdr, err := packfmt.ReadHeader(bytes.NewReader(pack))
	if len(req.Haves) == 0 || err != nil || hdr.Count == 0 {
		if err := pktline.WriteString(w, "NAK\n"); err != nil {
			return err
		}
	} else {
		// multi_ack_detailed: a single final ACK against the last have,
		// since this implementation always computes the full pack in one
		// pass rather than streaming incremental ACKs.
		last := req.Haves[len(req.Haves)-1]
		if err := pktline.WriteString(w, "ACK "+last.String()+"\n"); err != nil {
			return err
		}
	}

	const chunkSize = pktline.MaxPayloadSize - 1
	r := bytes.NewReader(pack)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := pktline.WriteSideBand(w, pktline.SideBandData, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return pktline.WriteFlush(w)
}
