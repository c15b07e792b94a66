package httpd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/ierr"
)

type fakeAuthStore struct {
	users       map[string]Credentials
	passwords   map[string]string
	signingKeys map[int64][]byte
	access      map[int64]bool
	repoIDs     map[string]int64
	repoErr     error
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		users:       map[string]Credentials{},
		passwords:   map[string]string{},
		signingKeys: map[int64][]byte{},
		access:      map[int64]bool{},
		repoIDs:     map[string]int64{},
	}
}

func (f *fakeAuthStore) VerifyPassword(_ context.Context, username, password string) (Credentials, error) {
	want, ok := f.passwords[username]
	if !ok || want != password {
		return Credentials{}, ierr.Permission("httpd_test: bad credential for %q", username)
	}
	return f.users[username], nil
}

func (f *fakeAuthStore) SigningKey(_ context.Context, userID int64) ([]byte, error) {
	key, ok := f.signingKeys[userID]
	if !ok {
		return nil, ierr.NotFound("httpd_test: no signing key for user %d", userID)
	}
	return key, nil
}

func (f *fakeAuthStore) CheckAccess(_ context.Context, _ int64, userID int64, _ Operation) (bool, error) {
	return f.access[userID], nil
}

func (f *fakeAuthStore) ResolveRepoID(_ context.Context, namespace, repo string) (int64, error) {
	if f.repoErr != nil {
		return 0, f.repoErr
	}
	id, ok := f.repoIDs[namespace+"/"+repo]
	if !ok {
		return 0, ierr.NotFound("httpd_test: no repository %s/%s", namespace, repo)
	}
	return id, nil
}

func newTestAuthenticator(store *fakeAuthStore) *Authenticator {
	return &Authenticator{Passwords: store, SigningKeys: store, Permissions: store, Repos: store}
}

func TestAuthenticateBasicSuccess(t *testing.T) {
	store := newFakeAuthStore()
	store.passwords["alice"] = "hunter2"
	store.users["alice"] = Credentials{UserID: 7, Username: "alice"}
	store.repoIDs["acme/repo"] = 42
	store.access[7] = true
	a := newTestAuthenticator(store)

	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	r.SetBasicAuth("alice", "hunter2")
	w := httptest.NewRecorder()

	req, err := a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.UserID)
	assert.Equal(t, int64(42), req.RepoID)
}

func TestAuthenticateBasicMissingCredential(t *testing.T) {
	a := newTestAuthenticator(newFakeAuthStore())
	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	w := httptest.NewRecorder()

	_, err := a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerWWWAuth))
}

func TestAuthenticateBasicWrongPassword(t *testing.T) {
	store := newFakeAuthStore()
	store.passwords["alice"] = "hunter2"
	a := newTestAuthenticator(store)

	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	r.SetBasicAuth("alice", "wrong")
	w := httptest.NewRecorder()

	_, err := a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateBasicAccessDenied(t *testing.T) {
	store := newFakeAuthStore()
	store.passwords["alice"] = "hunter2"
	store.users["alice"] = Credentials{UserID: 7, Username: "alice"}
	store.repoIDs["acme/repo"] = 42
	store.access[7] = false
	a := newTestAuthenticator(store)

	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	r.SetBasicAuth("alice", "hunter2")
	w := httptest.NewRecorder()

	_, err := a.Authenticate(w, r, "acme", "repo", OperationUpload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticateBearerSuccess(t *testing.T) {
	store := newFakeAuthStore()
	store.signingKeys[7] = []byte("secret-key")
	store.repoIDs["acme/repo"] = 42
	a := newTestAuthenticator(store)

	token, err := GenerateJWT([]byte("secret-key"), 7, 42, OperationUpload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/acme/repo/git-receive-pack", nil)
	r.Header.Set(headerAuthorization, "Bearer "+token)
	w := httptest.NewRecorder()

	req, err := a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.NoError(t, err)
	assert.Equal(t, int64(7), req.UserID)
	assert.Equal(t, int64(42), req.RepoID)
}

func TestAuthenticateBearerUploadTokenDoesNotAuthorizeOnAnotherRepo(t *testing.T) {
	store := newFakeAuthStore()
	store.signingKeys[7] = []byte("secret-key")
	store.repoIDs["acme/repo"] = 42
	a := newTestAuthenticator(store)

	token, err := GenerateJWT([]byte("secret-key"), 7, 99, OperationUpload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/acme/repo/git-receive-pack", nil)
	r.Header.Set(headerAuthorization, "Bearer "+token)
	w := httptest.NewRecorder()

	_, err = a.Authenticate(w, r, "acme", "repo", OperationUpload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticateBearerDownloadTokenCannotUpload(t *testing.T) {
	store := newFakeAuthStore()
	store.signingKeys[7] = []byte("secret-key")
	store.repoIDs["acme/repo"] = 42
	a := newTestAuthenticator(store)

	token, err := GenerateJWT([]byte("secret-key"), 7, 42, OperationDownload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/acme/repo/git-receive-pack", nil)
	r.Header.Set(headerAuthorization, "Bearer "+token)
	w := httptest.NewRecorder()

	_, err = a.Authenticate(w, r, "acme", "repo", OperationUpload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticateBearerExpiredToken(t *testing.T) {
	store := newFakeAuthStore()
	store.signingKeys[7] = []byte("secret-key")
	store.repoIDs["acme/repo"] = 42
	a := newTestAuthenticator(store)

	token, err := GenerateJWT([]byte("secret-key"), 7, 42, OperationDownload, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	r.Header.Set(headerAuthorization, "Bearer "+token)
	w := httptest.NewRecorder()

	_, err = a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticateBearerWrongSigningKey(t *testing.T) {
	store := newFakeAuthStore()
	store.signingKeys[7] = []byte("a-different-key")
	store.repoIDs["acme/repo"] = 42
	a := newTestAuthenticator(store)

	token, err := GenerateJWT([]byte("secret-key"), 7, 42, OperationDownload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/acme/repo/info/refs", nil)
	r.Header.Set(headerAuthorization, "Bearer "+token)
	w := httptest.NewRecorder()

	_, err = a.Authenticate(w, r, "acme", "repo", OperationDownload)
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBearerClaimsMatch(t *testing.T) {
	upload := &BearerClaims{Operation: OperationUpload}
	assert.True(t, upload.Match(OperationDownload))
	assert.True(t, upload.Match(OperationUpload))

	download := &BearerClaims{Operation: OperationDownload}
	assert.True(t, download.Match(OperationDownload))
	assert.False(t, download.Match(OperationUpload))
}
