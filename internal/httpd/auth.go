package httpd

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// errStop signals that a handler already wrote the failure response and
// the caller should simply return without writing again, mirroring
// pkg/serve/httpserver.ErrStop.
var errStop = errors.New("httpd: stop")

// Credentials is one resolved user identity: the record an Authenticator
// hands back once it has verified a request's Basic or Bearer credential.
type Credentials struct {
	UserID   int64
	Username string
}

// PasswordStore verifies a username/password pair, grounded on
// pkg/serve/httpserver.basicAuth's SearchUser + argon2id.ComparePasswordAndHash
// call, abstracted into one verb so httpd has no direct database dependency.
type PasswordStore interface {
	VerifyPassword(ctx context.Context, username, password string) (Credentials, error)
}

// SigningKeyStore resolves the HMAC key a bearer token for userID was
// signed with — normally the same per-user secret GenerateJWT used,
// mirroring bearer.go's u.SignatureToken round trip.
type SigningKeyStore interface {
	SigningKey(ctx context.Context, userID int64) ([]byte, error)
}

// PermissionOracle decides whether a verified identity may perform op
// against repoID. Kept as a single-method interface so httpd has no
// opinion on how access control is modeled (teams, roles, public repos);
// that logic lives wherever the caller's database package does.
type PermissionOracle interface {
	CheckAccess(ctx context.Context, repoID int64, userID int64, op Operation) (bool, error)
}

// RepoResolver maps a request's {namespace, repo} path variables to a
// repository ID, the same lookup pkg/serve/httpserver.basicAuth performs
// via FindRepositoryByPath before checking access.
type RepoResolver interface {
	ResolveRepoID(ctx context.Context, namespace, repo string) (int64, error)
}

// BearerClaims is the JWT payload githost-serve issues and verifies,
// grounded field-for-field on pkg/serve/httpserver.BearerMD (uid, rid,
// operation, plus the standard registered claims) but spelled as this
// system's Operation type instead of protocol.Operation.
type BearerClaims struct {
	UserID    int64    `json:"uid,string"`
	RepoID    int64    `json:"rid,string"`
	Operation Operation `json:"operation"`
	jwt.RegisteredClaims
}

// Match reports whether this token authorizes op, mirroring BearerMD.Match:
// an upload token also authorizes download, but not vice versa.
func (c *BearerClaims) Match(op Operation) bool {
	if op == OperationDownload {
		return c.Operation == OperationDownload || c.Operation == OperationUpload
	}
	return c.Operation == OperationUpload
}

// GenerateJWT signs a short-lived bearer token scoped to one repository
// and operation, HS256 over the user's own signing key exactly as
// bearer.go's GenerateJWT does.
func GenerateJWT(signingKey []byte, userID, repoID int64, op Operation, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := BearerClaims{
		UserID:    userID,
		RepoID:    repoID,
		Operation: op,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

// Authenticator wires PasswordStore/SigningKeyStore/PermissionOracle/
// RepoResolver into the Basic-or-Bearer dispatch every route runs before
// its handler, mirroring pkg/serve/httpserver's doAuth/OnFunc pair.
type Authenticator struct {
	Passwords   PasswordStore
	SigningKeys SigningKeyStore
	Permissions PermissionOracle
	Repos       RepoResolver
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(raw), ":")
	return user, pass, ok
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func (a *Authenticator) basicAuth(w http.ResponseWriter, r *http.Request, namespace, repo string, op Operation) (*Request, error) {
	user, pass, ok := parseBasicAuth(r.Header.Get(headerAuthorization))
	if !ok {
		w.Header().Set(headerWWWAuth, "Basic realm=\""+r.Host+"\"")
		renderError(w, http.StatusUnauthorized, "missing credential")
		return nil, errStop
	}
	creds, err := a.Passwords.VerifyPassword(r.Context(), user, pass)
	if err != nil {
		renderErrorf(w, http.StatusUnauthorized, "authentication failed: %v", err)
		return nil, errStop
	}
	repoID, err := a.Repos.ResolveRepoID(r.Context(), namespace, repo)
	if err != nil {
		renderInternalError(w, err)
		return nil, errStop
	}
	allowed, err := a.Permissions.CheckAccess(r.Context(), repoID, creds.UserID, op)
	if err != nil {
		renderInternalError(w, err)
		return nil, errStop
	}
	if !allowed {
		renderError(w, http.StatusForbidden, "access denied")
		return nil, errStop
	}
	return &Request{Request: r, UserID: creds.UserID, Username: creds.Username, RepoID: repoID}, nil
}

func (a *Authenticator) bearerAuth(w http.ResponseWriter, r *http.Request, namespace, repo, token string, op Operation) (*Request, error) {
	var claims *BearerClaims
	_, err := jwt.ParseWithClaims(token, &BearerClaims{}, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*BearerClaims)
		if !ok {
			return nil, jwt.ErrTokenMalformed
		}
		claims = c
		return a.SigningKeys.SigningKey(r.Context(), c.UserID)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			renderErrorf(w, http.StatusForbidden, "expired token: %v", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			renderErrorf(w, http.StatusForbidden, "invalid token: %v", err)
		default:
			renderErrorf(w, http.StatusBadRequest, "malformed token: %v", err)
		}
		return nil, errStop
	}
	if !claims.Match(op) {
		renderErrorf(w, http.StatusForbidden, "token scoped for %q does not authorize %q", claims.Operation, op)
		return nil, errStop
	}
	repoID, err := a.Repos.ResolveRepoID(r.Context(), namespace, repo)
	if err != nil {
		renderInternalError(w, err)
		return nil, errStop
	}
	if claims.RepoID != 0 && claims.RepoID != repoID {
		renderError(w, http.StatusForbidden, "token not scoped for this repository")
		return nil, errStop
	}
	return &Request{Request: r, UserID: claims.UserID, RepoID: repoID}, nil
}

// Authenticate dispatches to Bearer or Basic auth based on the
// Authorization header's scheme, mirroring doAuth.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request, namespace, repo string, op Operation) (*Request, error) {
	header := r.Header.Get(headerAuthorization)
	if token, ok := parseBearerToken(header); ok {
		return a.bearerAuth(w, r, namespace, repo, token, op)
	}
	return a.basicAuth(w, r, namespace, repo, op)
}
