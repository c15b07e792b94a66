// Package authstore is the SQL-backed identity and access-control layer
// httpd.Authenticator dispatches into: users, namespace/repository path
// resolution, and per-repository access levels.
//
// Grounded on pkg/serve/database's user.go (users table, argon2id-hashed
// password + per-user signature_token), namespaces.go/repositories.go
// (path-to-ID resolution joining namespaces and repositories), and
// access_level.go's AccessLevel scale (Reporter/Dev/Master/Owner) — kept
// as the same five-tier scale, retargeted from that package's
// MySQL-specific row shapes to the plain int64 IDs githost-serve's own
// refstore/tablet tables already key everything by.
package authstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/antgroup/hugescm/internal/argon2id"
	"github.com/antgroup/hugescm/internal/httpd"
	"github.com/antgroup/hugescm/internal/ierr"
)

// AccessLevel mirrors database.AccessLevel's five-tier scale.
type AccessLevel int

const (
	NoneAccess     AccessLevel = 0
	ReporterAccess AccessLevel = 20
	DevAccess      AccessLevel = 30
	MasterAccess   AccessLevel = 40
	OwnerAccess    AccessLevel = 50
)

func (a AccessLevel) Readable() bool  { return a >= ReporterAccess }
func (a AccessLevel) Writeable() bool { return a >= DevAccess }

// Store implements httpd.PasswordStore, httpd.SigningKeyStore,
// httpd.PermissionOracle, and httpd.RepoResolver against one *sql.DB.
type Store struct {
	db *sql.DB
}

func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// VerifyPassword implements httpd.PasswordStore, following
// pkg/serve/httpserver/auth.go's basicAuth: look the user up by name,
// then compare via argon2id rather than storing/comparing plaintext.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (httpd.Credentials, error) {
	var uid int64
	var hash string
	row := s.db.QueryRowContext(ctx, "select id, password from users where username = ?", username)
	if err := row.Scan(&uid, &hash); err != nil {
		if err == sql.ErrNoRows {
			return httpd.Credentials{}, ierr.Permission("authstore: unknown user %q", username)
		}
		return httpd.Credentials{}, fmt.Errorf("authstore: find user: %w", err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return httpd.Credentials{}, fmt.Errorf("authstore: compare password: %w", err)
	}
	if !ok {
		return httpd.Credentials{}, ierr.Permission("authstore: wrong password for %q", username)
	}
	return httpd.Credentials{UserID: uid, Username: username}, nil
}

// SigningKey implements httpd.SigningKeyStore, returning the per-user
// signature_token column bearer JWTs are issued and verified against —
// the same column pkg/serve/database.User.SignatureToken names.
func (s *Store) SigningKey(ctx context.Context, userID int64) ([]byte, error) {
	var token string
	row := s.db.QueryRowContext(ctx, "select signature_token from users where id = ?", userID)
	if err := row.Scan(&token); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NotFound("authstore: user %d not found", userID)
		}
		return nil, fmt.Errorf("authstore: signing key: %w", err)
	}
	return []byte(token), nil
}

// ResolveRepoID implements httpd.RepoResolver, joining namespaces and
// repositories the way FindRepositoryByPath does.
func (s *Store) ResolveRepoID(ctx context.Context, namespace, repo string) (int64, error) {
	var repoID int64
	row := s.db.QueryRowContext(ctx,
		`select r.id from repositories r inner join namespaces n on r.namespace_id = n.id where n.path = ? and r.name = ?`,
		namespace, repo)
	if err := row.Scan(&repoID); err != nil {
		if err == sql.ErrNoRows {
			return 0, ierr.NotFound("authstore: repository %s/%s not found", namespace, repo)
		}
		return 0, fmt.Errorf("authstore: resolve repo id: %w", err)
	}
	return repoID, nil
}

// CheckAccess implements httpd.PermissionOracle: the namespace owner
// always has OwnerAccess, otherwise the per-repo permissions row (if
// any) decides, following RepoAccessLevel's owner-or-explicit-grant
// shape.
func (s *Store) CheckAccess(ctx context.Context, repoID int64, userID int64, op httpd.Operation) (bool, error) {
	var ownerID int64
	row := s.db.QueryRowContext(ctx,
		`select n.owner_id from repositories r inner join namespaces n on r.namespace_id = n.id where r.id = ?`,
		repoID)
	if err := row.Scan(&ownerID); err != nil {
		if err == sql.ErrNoRows {
			return false, ierr.NotFound("authstore: repository %d not found", repoID)
		}
		return false, fmt.Errorf("authstore: check access: %w", err)
	}
	level := NoneAccess
	if ownerID == userID {
		level = OwnerAccess
	} else {
		var raw int
		permRow := s.db.QueryRowContext(ctx,
			"select access_level from permissions where repo_id = ? and user_id = ?", repoID, userID)
		if err := permRow.Scan(&raw); err != nil && err != sql.ErrNoRows {
			return false, fmt.Errorf("authstore: load permission: %w", err)
		}
		level = AccessLevel(raw)
	}
	if op == httpd.OperationUpload {
		return level.Writeable(), nil
	}
	return level.Readable(), nil
}

// CreateUser registers a new user with an argon2id-hashed password and a
// random signing key, mirroring database.NewUser's insert but without
// that method's companion namespace row — githost-serve provisions
// namespaces separately via CreateNamespace.
func (s *Store) CreateUser(ctx context.Context, username, password string) (int64, error) {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return 0, fmt.Errorf("authstore: hash password: %w", err)
	}
	token, err := randomToken(32)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx,
		"insert into users(username, password, signature_token, created_at, updated_at) values(?,?,?,now(),now())",
		username, hash, token)
	if err != nil {
		return 0, fmt.Errorf("authstore: create user: %w", err)
	}
	return result.LastInsertId()
}

// CreateNamespace registers a top-level namespace (user or group) owned
// by ownerID, mirroring database.NewUser's/NewGroupNamespace's insert.
func (s *Store) CreateNamespace(ctx context.Context, path string, ownerID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"insert into namespaces(path, name, owner_id, created_at, updated_at) values(?,?,?,now(),now())",
		path, path, ownerID)
	if err != nil {
		return 0, fmt.Errorf("authstore: create namespace: %w", err)
	}
	return result.LastInsertId()
}

// CreateRepository registers repoName under namespaceID, returning the
// new repository's ID for use as a repohub shard key.
func (s *Store) CreateRepository(ctx context.Context, namespaceID int64, repoName string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"insert into repositories(namespace_id, name, created_at, updated_at) values(?,?,now(),now())",
		namespaceID, repoName)
	if err != nil {
		return 0, fmt.Errorf("authstore: create repository: %w", err)
	}
	return result.LastInsertId()
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authstore: random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
