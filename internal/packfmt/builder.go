package packfmt

import (
	"bytes"
	"hash/crc32"
	"io"

	"github.com/antgroup/hugescm/internal/objfmt"
)

// Builder streams objects straight to an io.Writer while recording enough
// per-entry bookkeeping (hash, CRC32 over the compressed bytes, pack
// offset) to build a matching index afterward — the single-pass
// encode-then-index pattern modules/zeta/backend/pack.Encoder uses, minus
// the teacher's separate ".mtimes" side file (Git packs carry no such
// thing; see DESIGN.md).
type Builder struct {
	w       io.Writer
	trailer *StreamingTrailerWriter
	offset  uint64
	entries []IndexEntry
}

func NewBuilder(w io.Writer, count uint32) (*Builder, error) {
	tw := NewStreamingTrailerWriter(w)
	if err := WriteHeader(tw, count); err != nil {
		return nil, err
	}
	return &Builder{w: w, trailer: tw, offset: 12, entries: make([]IndexEntry, 0, count)}, nil
}

// Add writes one entry (computing its hash from kind+payload) and records
// its index metadata.
func (b *Builder) Add(kind objfmt.ObjectType, payload []byte) (objfmt.Hash, error) {
	h := objfmt.HashObject(kind, payload)
	entryStart := b.offset
	var hdrBuf bytes.Buffer
	if err := WriteEntryHeader(&hdrBuf, EntryHeader{Type: kind, Size: int64(len(payload))}); err != nil {
		return objfmt.ZeroHash, err
	}
	compressed := objfmt.Deflate(payload)

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.trailer, crc)
	if _, err := mw.Write(hdrBuf.Bytes()); err != nil {
		return objfmt.ZeroHash, err
	}
	if _, err := mw.Write(compressed); err != nil {
		return objfmt.ZeroHash, err
	}
	n := uint64(hdrBuf.Len() + len(compressed))
	b.entries = append(b.entries, IndexEntry{Hash: h, CRC32: crc.Sum32(), Offset: entryStart})
	b.offset += n
	return h, nil
}

// AddDelta writes a pre-built delta entry (ofs-delta or ref-delta) whose
// payload is already the delta instruction stream.
func (b *Builder) AddDelta(hdr EntryHeader, deltaPayload []byte, resultHash objfmt.Hash) error {
	entryStart := b.offset
	var hdrBuf bytes.Buffer
	if err := WriteEntryHeader(&hdrBuf, hdr); err != nil {
		return err
	}
	compressed := objfmt.Deflate(deltaPayload)

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(b.trailer, crc)
	if _, err := mw.Write(hdrBuf.Bytes()); err != nil {
		return err
	}
	if _, err := mw.Write(compressed); err != nil {
		return err
	}
	n := uint64(hdrBuf.Len() + len(compressed))
	b.entries = append(b.entries, IndexEntry{Hash: resultHash, CRC32: crc.Sum32(), Offset: entryStart})
	b.offset += n
	return nil
}

// Finish writes the pack trailer and returns the trailer hash plus the
// per-entry index metadata accumulated so far (ready for BuildIndex).
func (b *Builder) Finish() (objfmt.Hash, []IndexEntry, error) {
	h, err := b.trailer.WriteTrailer()
	if err != nil {
		return objfmt.ZeroHash, nil, err
	}
	return h, b.entries, nil
}
