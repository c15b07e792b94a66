// Package transfer implements the Git Smart-HTTP v1 wire protocol: ref
// advertisement, upload-pack (fetch/clone negotiation), and receive-pack
// (push), all framed in pkt-line and carrying real Git pack bytes.
//
// Grounded on pkg/serve/httpserver/transfer.go's shape (one handler per
// protocol phase, content-type-gated request dispatch) and
// pkg/serve/protocol/protocol.go's constant/magic layout style — but
// emitting Git's actual Smart-HTTP content types and pkt-line framing
// instead of the teacher's private Z1 binary protocol, since spec.md
// targets real `git fetch`/`git push` compatibility.
package transfer

import (
	"context"

	"github.com/antgroup/hugescm/internal/objfmt"
)

// Capabilities is the fixed capability string githost-serve advertises.
// side-band-64k lets large packs stream progress/error channels
// alongside pack data; thin-pack/ofs-delta tell the client delta-against-
// base-not-in-pack and offset-deltas are both accepted; no-progress lets
// a client suppress the progress side-band; delete-refs/atomic/shallow
// are accepted on the receive-pack/upload-pack side (see
// internal/transfer/receivepack.go's atomic handling); multi_ack_detailed
// is advertised for client compatibility even though negotiation itself
// collapses to a single final ACK (see DESIGN.md). report-status-v2 is
// deliberately omitted — spec.md's receive-pack only implements the v1
// report-status format.
const Capabilities = "side-band-64k thin-pack ofs-delta no-progress report-status delete-refs atomic shallow multi_ack_detailed agent=githost-serve/1.0"

// RefAdvertisement is one row of an info/refs response.
type RefAdvertisement struct {
	Name string
	Hash objfmt.Hash
	Peeled objfmt.Hash // set for annotated tags: the underlying commit
}

// RefLister is the subset of internal/refstore the transfer engine reads
// refs through.
type RefLister interface {
	List(ctx context.Context, repoID int64, prefix string) ([]RefRow, error)
	Resolve(ctx context.Context, repoID int64, name string) (RefRow, error)
}

// RefRow is the minimal ref shape the transfer engine needs (mirrors
// refstore.Ref without importing the database package directly).
type RefRow struct {
	Name string
	Hash objfmt.Hash
}

// SessionCaps bounds one negotiation session against abuse — spec.md's
// "session caps" non-goal-adjacent safety valve: none of these are
// protocol features, just server-side limits enforced while parsing
// client input.
type SessionCaps struct {
	MaxWants          int
	MaxHavesPerRound  int
	MaxRounds         int
	MaxBytesIn        int64
}

// DefaultCaps matches spec.md §6's suggested defaults.
var DefaultCaps = SessionCaps{
	MaxWants:         256,
	MaxHavesPerRound: 256,
	MaxRounds:        32,
	MaxBytesIn:       512 << 20,
}
