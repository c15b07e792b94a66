package clientside

import (
	"context"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objwalk"
	"github.com/antgroup/hugescm/internal/packfmt"
	"github.com/antgroup/hugescm/internal/transfer"
)

// LocalReader is the subset of internal/objstore a push walks to build
// the outgoing pack.
type LocalReader interface {
	transfer.ObjectStore
}

// PushCommand is one ref update a caller wants applied at the remote,
// expressed as "move name from old to new" (old is the zero hash for a
// create, new is the zero hash for a delete).
type PushCommand struct {
	Name string
	Old  objfmt.Hash
	New  objfmt.Hash
}

// Push computes the pack covering every object new commands introduce
// that the remote doesn't already have, then applies the commands
// through one git-receive-pack round.
//
// Grounded on pkg/zeta/push.go's push flow (resolve remote refs first so
// each command's Old matches reality, build the object set the remote is
// missing, send it) and modules/zeta/backend/pack-objects.go's
// pack-for-one-request shape, rebuilt against real Smart-HTTP framing.
func Push(ctx context.Context, t *Transport, local LocalReader, cmds []PushCommand) ([]transfer.CommandStatus, error) {
	remote, err := t.RemoteRefs(ctx, "git-receive-pack")
	if err != nil {
		return nil, err
	}
	remoteHash := make(map[string]objfmt.Hash, len(remote))
	for _, r := range remote {
		remoteHash[r.Name] = r.Hash
	}

	haves := make([]objfmt.Hash, 0, len(remote))
	for _, r := range remote {
		if !r.Hash.IsZero() {
			haves = append(haves, r.Hash)
		}
	}

	var wants []objfmt.Hash
	txCmds := make([]transfer.Command, 0, len(cmds))
	for _, c := range cmds {
		if cur := remoteHash[c.Name]; cur != c.Old {
			return nil, ierr.Conflict("clientside: push rejected, %q moved to %s remotely", c.Name, cur)
		}
		if !c.New.IsZero() {
			wants = append(wants, c.New)
		}
		txCmds = append(txCmds, transfer.Command{Ref: c.Name, Old: c.Old, New: c.New})
	}

	pack, err := buildPack(ctx, local, wants, haves)
	if err != nil {
		return nil, err
	}
	return t.PushPack(ctx, txCmds, pack)
}

// buildPack walks every object reachable from wants but not haves and
// serializes it as one complete pack, mirroring
// transfer.NegotiateAndPack's shape but run client-side against the
// local store instead of the server's.
func buildPack(ctx context.Context, local LocalReader, wants, haves []objfmt.Hash) ([]byte, error) {
	common := make(map[objfmt.Hash]bool, len(haves)*4)
	if len(haves) > 0 {
		_ = objwalk.Walk(ctx, localReachable{ctx: ctx, store: local}, haves, func(h objfmt.Hash, _ objfmt.ObjectType, _ []byte) {
			common[h] = true
		})
	}
	var objs []packfmt.Object
	err := objwalk.Walk(ctx, localReachable{ctx: ctx, store: local}, wants, func(h objfmt.Hash, typ objfmt.ObjectType, payload []byte) {
		if common[h] {
			return
		}
		objs = append(objs, packfmt.Object{Kind: typ, Payload: payload})
	})
	if err != nil {
		return nil, err
	}
	pack, _, err := packfmt.Write(objs)
	return pack, err
}

type localReachable struct {
	ctx   context.Context
	store LocalReader
}

func (l localReachable) Get(_ context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	return l.store.Get(l.ctx, h)
}
