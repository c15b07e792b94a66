// Package refstore is the SQL-backed ref store: compare-and-swap updates,
// symbolic refs, and a packed-refs snapshot for bulk listing. Grounded on
// pkg/serve/database's branch/tag CAS pattern (update.go's
// doCreateBranch/DoBranchUpdate/doRemoveBranch transactions) — same
// begin/select-for-update/compare/update-or-delete/commit shape, collapsed
// onto a single refs table instead of the teacher's separate branches/tags
// tables, since spec.md models one uniform ref namespace.
package refstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

const erDupEntry = 1062

// RefKind distinguishes a direct (hash-valued) ref from a symbolic one
// (e.g. HEAD pointing at refs/heads/main).
type RefKind int8

const (
	KindDirect RefKind = iota
	KindSymbolic
)

// Ref is one stored reference row.
type Ref struct {
	RepoID    int64
	Name      string
	Kind      RefKind
	Hash      objfmt.Hash // valid when Kind == KindDirect
	Target    string      // valid when Kind == KindSymbolic
	UpdatedAt time.Time
}

// Store is a SQL-backed ref store; every mutating method runs inside one
// transaction so concurrent updaters linearize on the database, not on an
// in-process lock — multiple githost-serve replicas share correctness.
type Store struct {
	db *sql.DB
}

func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get reads one ref. Returns ierr.NotFound if absent.
func (s *Store) Get(ctx context.Context, repoID int64, name string) (Ref, error) {
	row := s.db.QueryRowContext(ctx,
		"select kind, hash, target, updated_at from refs where repo_id = ? and name = ?", repoID, name)
	var kind int8
	var hashHex, target string
	var updatedAt time.Time
	if err := row.Scan(&kind, &hashHex, &target, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Ref{}, ierr.NotFound("refstore: no such ref %q", name)
		}
		return Ref{}, err
	}
	ref := Ref{RepoID: repoID, Name: name, Kind: RefKind(kind), Target: target, UpdatedAt: updatedAt.Local()}
	if ref.Kind == KindDirect {
		h, err := objfmt.NewHashEx(hashHex)
		if err != nil {
			return Ref{}, ierr.Corruption("refstore: stored ref %q has invalid hash %q", name, hashHex)
		}
		ref.Hash = h
	}
	return ref, nil
}

// List returns every ref under the given prefix (e.g. "refs/heads/"),
// direct and symbolic alike, ordered by name — the packed-refs
// equivalent for bulk advertisement. Callers wanting only direct refs
// filter on Kind.
func (s *Store) List(ctx context.Context, repoID int64, prefix string) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		"select name, kind, hash, target, updated_at from refs where repo_id = ? and name like ? order by name",
		repoID, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ref
	for rows.Next() {
		var name, target, hashHex string
		var kind int8
		var updatedAt time.Time
		if err := rows.Scan(&name, &kind, &hashHex, &target, &updatedAt); err != nil {
			return nil, err
		}
		ref := Ref{RepoID: repoID, Name: name, Kind: RefKind(kind), Target: target, UpdatedAt: updatedAt.Local()}
		if ref.Kind == KindDirect {
			h, err := objfmt.NewHashEx(hashHex)
			if err != nil {
				return nil, ierr.Corruption("refstore: stored ref %q has invalid hash %q", name, hashHex)
			}
			ref.Hash = h
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CAS performs a linearizable compare-and-swap update of a direct ref:
// oldHash must match the ref's current value (objfmt.ZeroHash meaning
// "must not currently exist" for a create), newHash is the value to
// install (objfmt.ZeroHash meaning "delete"). Every branch runs inside one
// transaction so a concurrent updater sees either the old or the new state
// atomically, never a partial one.
func (s *Store) CAS(ctx context.Context, repoID int64, name string, oldHash, newHash objfmt.Hash) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin tx: %w", err)
	}
	if err := casTx(ctx, tx, repoID, name, oldHash, newHash); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CASUpdate is one ref's desired compare-and-swap, batched through
// CASBatch.
type CASUpdate struct {
	Name string
	Old  objfmt.Hash
	New  objfmt.Hash
}

// CASBatch applies every update in updates inside a single transaction:
// either all of them commit together, or — the instant one fails its
// compare — the whole transaction rolls back and none do. This is the
// ref-store side of spec.md's `atomic` receive-pack capability, where a
// client's multi-ref push must be all-or-nothing.
func (s *Store) CASBatch(ctx context.Context, repoID int64, updates []CASUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refstore: begin tx: %w", err)
	}
	for _, u := range updates {
		if err := casTx(ctx, tx, repoID, u.Name, u.Old, u.New); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func casTx(ctx context.Context, tx *sql.Tx, repoID int64, name string, oldHash, newHash objfmt.Hash) error {
	if oldHash.IsZero() {
		return createTx(ctx, tx, repoID, name, newHash)
	}
	if newHash.IsZero() {
		return removeTx(ctx, tx, repoID, name, oldHash)
	}
	return updateTx(ctx, tx, repoID, name, oldHash, newHash)
}

func createTx(ctx context.Context, tx *sql.Tx, repoID int64, name string, newHash objfmt.Hash) error {
	now := time.Now()
	result, err := tx.ExecContext(ctx,
		"insert into refs(repo_id, name, kind, hash, target, updated_at) values(?,?,?,?,?,?)",
		repoID, name, KindDirect, newHash.String(), "", now)
	if isDupEntry(err) {
		return ierr.Conflict("refstore: ref %q already exists", name)
	}
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ierr.Conflict("refstore: ref %q already exists", name)
	}
	return nil
}

func removeTx(ctx context.Context, tx *sql.Tx, repoID int64, name string, oldHash objfmt.Hash) error {
	var current string
	if err := tx.QueryRowContext(ctx, "select hash from refs where repo_id = ? and name = ? and kind = ?",
		repoID, name, KindDirect).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ierr.NotFound("refstore: no such ref %q", name)
		}
		return err
	}
	if current != oldHash.String() {
		return ierr.Conflict("refstore: ref %q changed concurrently", name)
	}
	result, err := tx.ExecContext(ctx, "delete from refs where repo_id = ? and name = ? and hash = ?", repoID, name, oldHash.String())
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ierr.Conflict("refstore: ref %q changed concurrently", name)
	}
	return nil
}

func updateTx(ctx context.Context, tx *sql.Tx, repoID int64, name string, oldHash, newHash objfmt.Hash) error {
	var current string
	if err := tx.QueryRowContext(ctx, "select hash from refs where repo_id = ? and name = ? and kind = ?",
		repoID, name, KindDirect).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ierr.NotFound("refstore: no such ref %q", name)
		}
		return err
	}
	if current != oldHash.String() {
		return ierr.Conflict("refstore: ref %q changed concurrently (want %s, have %s)", name, oldHash, current)
	}
	result, err := tx.ExecContext(ctx, "update refs set hash = ?, updated_at = ? where repo_id = ? and name = ? and hash = ?",
		newHash.String(), time.Now(), repoID, name, oldHash.String())
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ierr.Conflict("refstore: ref %q changed concurrently", name)
	}
	return nil
}

// SetSymbolic points name at target (e.g. HEAD -> refs/heads/main),
// creating or overwriting unconditionally — symbolic refs have no CAS
// semantics in spec.md, only direct refs do.
func (s *Store) SetSymbolic(ctx context.Context, repoID int64, name, target string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`insert into refs(repo_id, name, kind, hash, target, updated_at) values(?,?,?,?,?,?)
		 on duplicate key update kind = values(kind), target = values(target), hash = '', updated_at = values(updated_at)`,
		repoID, name, KindSymbolic, "", target, now)
	return err
}

// Resolve follows a symbolic ref chain to its terminal direct ref,
// guarding against cycles.
func (s *Store) Resolve(ctx context.Context, repoID int64, name string) (Ref, error) {
	seen := map[string]bool{}
	for {
		if seen[name] {
			return Ref{}, ierr.Corruption("refstore: symbolic ref cycle at %q", name)
		}
		seen[name] = true
		ref, err := s.Get(ctx, repoID, name)
		if err != nil {
			return Ref{}, err
		}
		if ref.Kind == KindDirect {
			return ref, nil
		}
		name = ref.Target
	}
}

func isDupEntry(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == erDupEntry
}
