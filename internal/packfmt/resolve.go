package packfmt

import (
	"github.com/antgroup/hugescm/internal/deltafmt"
	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// ResolvedObject is one fully-materialized object recovered from a pack:
// its hash, type, and raw (non-delta) payload.
type ResolvedObject struct {
	Hash    objfmt.Hash
	Type    objfmt.ObjectType
	Payload []byte
}

// ExternalBase looks up a base object by hash when a ref-delta names a
// base that isn't itself present in the pack (a thin pack) — the object
// store stands in for it. Resolve consults it for ref-deltas only.
// Supplied by the caller (internal/transfer.UnpackObjects wraps its
// store's Get); kept as a function type here so packfmt has no
// dependency on the storage layer.
type ExternalBase func(h objfmt.Hash) ([]byte, objfmt.ObjectType, error)

type pendingDelta struct {
	entry *Entry
}

// Resolve implements spec.md §4.C's two-pass delta resolution: first pass
// decompresses every entry and indexes it by pack-relative offset and (for
// non-delta objects) by computed hash; second pass repeatedly sweeps the
// pending delta set, resolving any whose base has become available, until a
// full sweep makes no progress. A non-empty pending set at that point is a
// fatal pack corruption, never a silent partial result.
func Resolve(pack []byte, external ExternalBase) ([]ResolvedObject, error) {
	entries, _, err := ReadAll(pack)
	if err != nil {
		return nil, err
	}

	resolved := make(map[objfmt.Hash]ResolvedObject, len(entries))
	var pending []pendingDelta

	for _, e := range entries {
		switch e.Header.Type {
		case objfmt.OFSDeltaObject, objfmt.REFDeltaObject:
			pending = append(pending, pendingDelta{entry: e})
		default:
			h := objfmt.HashObject(e.Header.Type, e.Payload)
			resolved[h] = ResolvedObject{Hash: h, Type: e.Header.Type, Payload: e.Payload}
		}
	}

	offsetHash := make(map[int64]objfmt.Hash)
	for _, e := range entries {
		if e.Header.Type != objfmt.OFSDeltaObject && e.Header.Type != objfmt.REFDeltaObject {
			offsetHash[e.Offset] = objfmt.HashObject(e.Header.Type, e.Payload)
		}
	}

	for {
		progressed := false
		var stillPending []pendingDelta
		for _, pd := range pending {
			e := pd.entry
			var baseHash objfmt.Hash
			var haveBaseHash bool
			var baseOffset int64
			switch e.Header.Type {
			case objfmt.OFSDeltaObject:
				baseOffset = e.Offset - e.Header.BaseOffset
				if h, ok := offsetHash[baseOffset]; ok {
					baseHash, haveBaseHash = h, true
				}
			case objfmt.REFDeltaObject:
				baseHash, haveBaseHash = e.Header.BaseHash, true
			}

			var base ResolvedObject
			var ok bool
			if haveBaseHash {
				base, ok = resolved[baseHash]
			}
			if !ok && e.Header.Type == objfmt.REFDeltaObject && external != nil {
				payload, typ, extErr := external(e.Header.BaseHash)
				if extErr == nil {
					base = ResolvedObject{Hash: e.Header.BaseHash, Type: typ, Payload: payload}
					ok = true
				}
			}
			if !ok {
				stillPending = append(stillPending, pd)
				continue
			}

			target, err := deltafmt.Apply(base.Payload, e.Payload)
			if err != nil {
				return nil, err
			}
			h := objfmt.HashObject(base.Type, target)
			resolved[h] = ResolvedObject{Hash: h, Type: base.Type, Payload: target}
			offsetHash[e.Offset] = h
			progressed = true
		}
		pending = stillPending
		if len(pending) == 0 {
			break
		}
		if !progressed {
			return nil, ierr.Corruption("pack: %d delta(s) could not be resolved, unresolvable base reference", len(pending))
		}
	}

	out := make([]ResolvedObject, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, r)
	}
	return out, nil
}
