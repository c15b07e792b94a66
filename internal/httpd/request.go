package httpd

import "net/http"

// Request is an authenticated request: the verified identity plus the
// repository it resolved against, threaded through to every handler
// exactly as pkg/serve/httpserver.Request threads *database.User/
// *database.Namespace/*database.Repository.
type Request struct {
	*http.Request
	UserID   int64
	Username string
	RepoID   int64
}
