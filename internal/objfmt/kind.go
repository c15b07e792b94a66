package objfmt

import "fmt"

// ObjectType is one of the four Git object kinds, plus the two pack-only
// delta kinds used while an entry is still on the wire.
type ObjectType int8

const (
	InvalidObject ObjectType = iota
	CommitObject
	TreeObject
	BlobObject
	TagObject
	OFSDeltaObject
	REFDeltaObject
)

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	case OFSDeltaObject:
		return "ofs-delta"
	case REFDeltaObject:
		return "ref-delta"
	default:
		return "invalid"
	}
}

// ParseObjectType maps a Git object kind keyword ("commit", "tree", "blob",
// "tag") to an ObjectType. Delta kinds are never spelled this way on the
// wire — they only ever appear as the 3-bit pack type tag.
func ParseObjectType(s string) (ObjectType, error) {
	switch s {
	case "commit":
		return CommitObject, nil
	case "tree":
		return TreeObject, nil
	case "blob":
		return BlobObject, nil
	case "tag":
		return TagObject, nil
	default:
		return InvalidObject, fmt.Errorf("objfmt: unknown object type %q", s)
	}
}

// packTypeTag is the 3-bit type tag occupying bits 6..4 of a pack object's
// first header byte. Non-delta kinds use tags 1..4 for commit/tree/blob/tag;
// 6 is ofs-delta, 7 is ref-delta (tag 5 is reserved/unused by Git).
func (t ObjectType) packTypeTag() (uint8, bool) {
	switch t {
	case CommitObject:
		return 1, true
	case TreeObject:
		return 2, true
	case BlobObject:
		return 3, true
	case TagObject:
		return 4, true
	case OFSDeltaObject:
		return 6, true
	case REFDeltaObject:
		return 7, true
	default:
		return 0, false
	}
}

func objectTypeFromTag(tag uint8) (ObjectType, error) {
	switch tag {
	case 1:
		return CommitObject, nil
	case 2:
		return TreeObject, nil
	case 3:
		return BlobObject, nil
	case 4:
		return TagObject, nil
	case 6:
		return OFSDeltaObject, nil
	case 7:
		return REFDeltaObject, nil
	default:
		return InvalidObject, fmt.Errorf("objfmt: unsupported pack type tag %d", tag)
	}
}
