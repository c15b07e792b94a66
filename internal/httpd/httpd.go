// Package httpd is githost-serve's HTTP composition root: it exposes the
// Git Smart-HTTP v1 endpoints (internal/transfer) and the LFS batch API
// (internal/lfsobj) behind gorilla/mux routing, Basic/Bearer
// authentication, and logrus request logging.
//
// Grounded on pkg/serve/httpserver's Server/Request/ResponseWriter shape
// (server.go, request.go, response.go, auth.go, bearer.go) — the same
// dispatch idiom (one HandlerFunc per route, an OnFunc wrapper doing
// auth before the handler runs, a shadow ResponseWriter tracking status
// and bytes for the access log) retargeted from the teacher's Z1
// protocol onto real Git Smart-HTTP and LFS semantics.
package httpd

// Operation names what a request wants to do with a repository, mirroring
// pkg/serve/protocol.Operation's download/upload split without pulling in
// the teacher's SUDO/PSEUDO values, which have no equivalent here.
type Operation string

const (
	OperationDownload Operation = "download"
	OperationUpload   Operation = "upload"
)

const (
	headerAuthorization = "Authorization"
	headerWWWAuth       = "WWW-Authenticate"
	jsonMIME            = "application/json"
)
