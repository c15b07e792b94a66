package packfmt

import (
	"io"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// Entry is one parsed, fully-inflated pack object as produced by Iterator.
// Payload holds the delta instruction stream for delta kinds, or the
// object's raw bytes for the four base kinds.
type Entry struct {
	Offset  int64
	Header  EntryHeader
	Payload []byte
}

// Iterator is a lazy, finite, non-restartable sequence of pack entries —
// the shape spec.md §9 calls for ("a lazy sequence of records, finite,
// non-restartable"). Constructed over a full in-memory pack byte sequence
// because ofs-delta resolution needs random access back into earlier
// entries by pack-relative offset.
type Iterator struct {
	data      []byte
	pos       int
	remaining uint32
}

// NewIterator validates the pack header and trailer up front, then returns
// an iterator positioned at the first entry.
func NewIterator(pack []byte) (*Iterator, Header, error) {
	hdr, err := ReadHeader(bytesReader(pack))
	if err != nil {
		return nil, Header{}, err
	}
	if err := ValidateTrailer(pack); err != nil {
		return nil, Header{}, err
	}
	return &Iterator{data: pack, pos: 12, remaining: hdr.Count}, hdr, nil
}

func bytesReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b []byte
}

func (s *sliceReader) Read(p []byte) (int, error) {
	n := copy(p, s.b)
	s.b = s.b[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Next returns the next entry, or io.EOF once every declared object has
// been produced.
func (it *Iterator) Next() (*Entry, error) {
	if it.remaining == 0 {
		return nil, io.EOF
	}
	offset := it.pos
	hdr, n, err := ReadEntryHeader(it.data, it.pos)
	if err != nil {
		return nil, err
	}
	it.pos += n
	payload, consumed, err := objfmt.Inflate(it.data, it.pos, hdr.Size)
	if err != nil {
		return nil, err
	}
	it.pos += consumed
	it.remaining--
	return &Entry{Offset: int64(offset), Header: hdr, Payload: payload}, nil
}

// ReadAll drains the iterator into a slice; callers processing huge packs
// should prefer Next() directly.
func ReadAll(pack []byte) ([]*Entry, Header, error) {
	it, hdr, err := NewIterator(pack)
	if err != nil {
		return nil, Header{}, err
	}
	var out []*Entry
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Header{}, err
		}
		out = append(out, e)
	}
	return out, hdr, nil
}

// ObjectAt re-reads a single entry at a known pack offset without
// advancing any Iterator — used to resolve ofs-delta bases that live
// earlier in the same pack.
func ObjectAt(pack []byte, offset int64) (*Entry, error) {
	if offset < 0 || int(offset) >= len(pack) {
		return nil, ierr.Corruption("pack: offset %d out of range", offset)
	}
	hdr, n, err := ReadEntryHeader(pack, int(offset))
	if err != nil {
		return nil, err
	}
	payload, _, err := objfmt.Inflate(pack, int(offset)+n, hdr.Size)
	if err != nil {
		return nil, err
	}
	return &Entry{Offset: offset, Header: hdr, Payload: payload}, nil
}
