package packfmt

import (
	"io"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// EntryHeader describes one pack object entry before its zlib payload:
// type tag, declared uncompressed size, and (for delta kinds) the base
// reference — either a pack-relative negative offset (ofs-delta) or a
// 20-byte base hash (ref-delta). See spec.md §3 "Pack object entry".
type EntryHeader struct {
	Type       objfmt.ObjectType
	Size       int64
	BaseOffset int64       // ofs-delta only: offset of base, relative to this entry's offset
	BaseHash   objfmt.Hash // ref-delta only
}

// ReadEntryHeader parses the type+size varint (and, for delta types, the
// base reference) starting at buf[at:]. It returns the header and the
// number of bytes consumed from buf.
//
// Type tag occupies bits 6..4 of the first byte; size low 4 bits occupy
// bits 3..0; bit 7 is the continuation flag. Subsequent size bytes
// contribute 7 bits each, least-significant group first.
func ReadEntryHeader(buf []byte, at int) (EntryHeader, int, error) {
	pos := at
	if pos >= len(buf) {
		return EntryHeader{}, 0, ierr.MalformedInput("pack: truncated entry header")
	}
	first := buf[pos]
	pos++
	tag := (first >> 4) & 0x07
	typ, err := objectTypeFromTagPublic(tag)
	if err != nil {
		return EntryHeader{}, 0, ierr.MalformedInput("pack: %v", err)
	}
	size := int64(first & 0x0f)
	shift := uint(4)
	cont := first&0x80 != 0
	for cont {
		if pos >= len(buf) {
			return EntryHeader{}, 0, ierr.MalformedInput("pack: truncated size varint")
		}
		b := buf[pos]
		pos++
		size |= int64(b&0x7f) << shift
		shift += 7
		cont = b&0x80 != 0
	}

	hdr := EntryHeader{Type: typ, Size: size}
	switch typ {
	case objfmt.OFSDeltaObject:
		off, n, err := readOffsetVarint(buf, pos)
		if err != nil {
			return EntryHeader{}, 0, err
		}
		hdr.BaseOffset = off
		pos += n
	case objfmt.REFDeltaObject:
		if pos+objfmt.HashSize > len(buf) {
			return EntryHeader{}, 0, ierr.MalformedInput("pack: truncated ref-delta base hash")
		}
		copy(hdr.BaseHash[:], buf[pos:pos+objfmt.HashSize])
		pos += objfmt.HashSize
	}
	return hdr, pos - at, nil
}

// readOffsetVarint decodes the "ofs-delta" negative offset: smallest-byte-
// first, with a bias where each continuation byte increments the
// accumulator by 1 before shifting 7 more bits in. This bias is what makes
// the encoding unambiguous (without it, leading zero groups would collide)
// and must be inverted exactly or ofs-delta bases resolve to the wrong
// object.
func readOffsetVarint(buf []byte, at int) (int64, int, error) {
	if at >= len(buf) {
		return 0, 0, ierr.MalformedInput("pack: truncated ofs-delta offset")
	}
	pos := at
	b := buf[pos]
	pos++
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		if pos >= len(buf) {
			return 0, 0, ierr.MalformedInput("pack: truncated ofs-delta offset")
		}
		b = buf[pos]
		pos++
		offset++
		offset = (offset << 7) | int64(b&0x7f)
	}
	return offset, pos - at, nil
}

// WriteEntryHeader emits the type+size varint (and delta base reference)
// for one entry.
func WriteEntryHeader(w io.Writer, hdr EntryHeader) error {
	tag, ok := packTypeTagPublic(hdr.Type)
	if !ok {
		return ierr.Fatal("pack: cannot emit entry of type %s", hdr.Type)
	}
	size := hdr.Size
	first := byte(tag<<4) | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	if err := writeByte(w, first); err != nil {
		return err
	}
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		if err := writeByte(w, b); err != nil {
			return err
		}
	}
	switch hdr.Type {
	case objfmt.OFSDeltaObject:
		return writeOffsetVarint(w, hdr.BaseOffset)
	case objfmt.REFDeltaObject:
		_, err := w.Write(hdr.BaseHash[:])
		return err
	}
	return nil
}

func writeOffsetVarint(w io.Writer, offset int64) error {
	// Encode most-significant group first, inverting the bias applied on
	// decode (each non-terminal byte implicitly carries "+1" worth of
	// value that decode folds back in via offset++ before shifting).
	var groups []byte
	groups = append(groups, byte(offset&0x7f))
	offset >>= 7
	for offset > 0 {
		offset--
		groups = append(groups, byte(0x80|(offset&0x7f)))
		offset >>= 7
	}
	for i := len(groups) - 1; i >= 0; i-- {
		if err := writeByte(w, groups[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func objectTypeFromTagPublic(tag uint8) (objfmt.ObjectType, error) {
	switch tag {
	case 1:
		return objfmt.CommitObject, nil
	case 2:
		return objfmt.TreeObject, nil
	case 3:
		return objfmt.BlobObject, nil
	case 4:
		return objfmt.TagObject, nil
	case 6:
		return objfmt.OFSDeltaObject, nil
	case 7:
		return objfmt.REFDeltaObject, nil
	default:
		return objfmt.InvalidObject, ierr.MalformedInput("unsupported pack type tag %d", tag)
	}
}

func packTypeTagPublic(t objfmt.ObjectType) (uint8, bool) {
	switch t {
	case objfmt.CommitObject:
		return 1, true
	case objfmt.TreeObject:
		return 2, true
	case objfmt.BlobObject:
		return 3, true
	case objfmt.TagObject:
		return 4, true
	case objfmt.OFSDeltaObject:
		return 6, true
	case objfmt.REFDeltaObject:
		return 7, true
	default:
		return 0, false
	}
}
