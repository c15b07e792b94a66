package packfmt

import (
	"bytes"

	"github.com/antgroup/hugescm/internal/objfmt"
)

// Object is a single (kind, payload) pair to be packed. Delta-encoding
// (picking bases, building copy/insert scripts) is the deltafmt package's
// job and the transfer engine's negotiation logic; Write here only emits
// whatever entries it is given — see spec.md §4.B "the in-memory writer
// does not delta-compress".
type Object struct {
	Kind    objfmt.ObjectType
	Payload []byte
}

// Write serializes objs into a complete, self-validating pack: header,
// zlib-framed entries, SHA-1 trailer. Returns the pack bytes and the hash
// of each object in input order (so callers can build a matching index).
func Write(objs []Object) ([]byte, []objfmt.Hash, error) {
	var buf bytes.Buffer
	b, err := NewBuilder(&buf, uint32(len(objs)))
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]objfmt.Hash, len(objs))
	for i, o := range objs {
		h, err := b.Add(o.Kind, o.Payload)
		if err != nil {
			return nil, nil, err
		}
		hashes[i] = h
	}
	if _, _, err := b.Finish(); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), hashes, nil
}
