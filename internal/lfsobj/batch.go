package lfsobj

import (
	"context"
	"time"

	"github.com/antgroup/hugescm/internal/blobstore"
	"github.com/antgroup/hugescm/internal/ierr"
)

// BatchOperation is the LFS batch API's operation discriminator.
type BatchOperation string

const (
	OperationDownload BatchOperation = "download"
	OperationUpload   BatchOperation = "upload"
)

// ObjectRequest is one entry of the batch request's objects array.
type ObjectRequest struct {
	Oid  string `json:"oid"`
	Size int64  `json:"size"`
}

// BatchRequest is the decoded POST body of /info/lfs/objects/batch.
type BatchRequest struct {
	Operation BatchOperation  `json:"operation"`
	Objects   []ObjectRequest `json:"objects"`
}

// Action is one href/expiry pair inside an object's actions map.
type Action struct {
	Href      string `json:"href"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// ObjectError mirrors the LFS spec's per-object error shape.
type ObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ObjectResponse is one entry of the batch response's objects array.
type ObjectResponse struct {
	Oid     string             `json:"oid"`
	Size    int64              `json:"size"`
	Actions map[string]Action  `json:"actions,omitempty"`
	Error   *ObjectError       `json:"error,omitempty"`
}

// BatchResponse is the full JSON body returned from the batch endpoint.
type BatchResponse struct {
	Objects []ObjectResponse `json:"objects"`
}

// Exister is the subset of blobstore.Bucket the batch handler needs to
// tell existing downloadable content apart from objects the client must
// upload.
type Exister interface {
	Has(ctx context.Context, key string) (bool, error)
}

// URLSigner mints a time-limited href for a content-addressable LFS key;
// implemented by the httpd layer once a concrete auth/signing scheme is
// chosen (out of scope here per spec.md's non-goals around the outer
// HTTP surface).
type URLSigner func(key string, expiresIn time.Duration) string

// LinkExpiry is how long minted hrefs stay valid.
const LinkExpiry = 15 * time.Minute

// BuildBatchResponse resolves one batch request into per-object actions:
// for download, a missing object yields a 404 ObjectError instead of an
// href (spec.md §6); for upload, every object gets an upload href
// unconditionally — the client decides whether to skip objects it
// already knows the server has via a prior HEAD, which this
// implementation does not attempt to second-guess.
func BuildBatchResponse(ctx context.Context, bucket Exister, sign URLSigner, lfsPrefix string, req BatchRequest) (BatchResponse, error) {
	resp := BatchResponse{Objects: make([]ObjectResponse, 0, len(req.Objects))}
	for _, obj := range req.Objects {
		if !oidRE.MatchString(obj.Oid) {
			resp.Objects = append(resp.Objects, ObjectResponse{
				Oid: obj.Oid, Size: obj.Size,
				Error: &ObjectError{Code: 422, Message: "invalid oid"},
			})
			continue
		}
		key := blobstore.LFSKey(lfsPrefix, obj.Oid)

		switch req.Operation {
		case OperationDownload:
			exists, err := bucket.Has(ctx, key)
			if err != nil {
				return BatchResponse{}, ierr.Wrap(ierr.KindOf(err), "lfsobj: batch existence check", err)
			}
			if !exists {
				resp.Objects = append(resp.Objects, ObjectResponse{
					Oid: obj.Oid, Size: obj.Size,
					Error: &ObjectError{Code: 404, Message: "object does not exist"},
				})
				continue
			}
			resp.Objects = append(resp.Objects, ObjectResponse{
				Oid: obj.Oid, Size: obj.Size,
				Actions: map[string]Action{
					"download": {Href: sign(key, LinkExpiry), ExpiresIn: int(LinkExpiry.Seconds())},
				},
			})
		case OperationUpload:
			resp.Objects = append(resp.Objects, ObjectResponse{
				Oid: obj.Oid, Size: obj.Size,
				Actions: map[string]Action{
					"upload": {Href: sign(key, LinkExpiry), ExpiresIn: int(LinkExpiry.Seconds())},
				},
			})
		default:
			resp.Objects = append(resp.Objects, ObjectResponse{
				Oid: obj.Oid, Size: obj.Size,
				Error: &ObjectError{Code: 422, Message: "unsupported operation"},
			})
		}
	}
	return resp, nil
}
