// Package deltafmt implements the Git delta instruction language: applying
// a delta to a base to recover a target, and building a delta from a
// (base, target) pair. Grounded on the varint-decoding idiom used
// throughout modules/zeta/backend/pack (size varints, offset varints) —
// the opcode grammar itself is Git's, not the teacher's (the teacher never
// delta-compresses; spec.md §4.B notes the in-memory pack writer doesn't
// either, so this package is what fills that gap for real Git compat).
package deltafmt

import (
	"bytes"

	"github.com/antgroup/hugescm/internal/ierr"
)

const maxCopySize = 0x10000 // default copy size when the size bytes are absent

// Apply reconstructs the target described by delta against base. delta
// begins with two size varints (source size, target size); base's length
// must equal the declared source size story, and the produced output must
// equal the declared target size exactly, or Apply fails — spec.md §3
// "Delta instruction stream" and invariant 6.
func Apply(base, delta []byte) ([]byte, error) {
	srcSize, pos, err := readSizeVarint(delta, 0)
	if err != nil {
		return nil, err
	}
	if srcSize != uint64(len(base)) {
		return nil, ierr.Corruption("delta: base size mismatch, want %d got %d", srcSize, len(base))
	}
	targetSize, pos, err := readSizeVarint(delta, pos)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, targetSize)
	for pos < len(delta) {
		op := delta[pos]
		pos++
		switch {
		case op&0x80 != 0:
			// Copy: bits 0..3 select which offset bytes follow, bits
			// 4..6 select which size bytes follow, in increasing byte
			// order; absent bytes default to 0 (size defaults to
			// 0x10000 when entirely absent).
			var offset, size uint32
			for i := 0; i < 4; i++ {
				if op&(1<<uint(i)) != 0 {
					if pos >= len(delta) {
						return nil, ierr.MalformedInput("delta: truncated copy offset")
					}
					offset |= uint32(delta[pos]) << uint(8*i)
					pos++
				}
			}
			sizeBytesPresent := false
			for i := 0; i < 3; i++ {
				if op&(1<<uint(4+i)) != 0 {
					if pos >= len(delta) {
						return nil, ierr.MalformedInput("delta: truncated copy size")
					}
					size |= uint32(delta[pos]) << uint(8*i)
					pos++
					sizeBytesPresent = true
				}
			}
			if !sizeBytesPresent {
				size = maxCopySize
			}
			start, n := uint64(offset), uint64(size)
			if start+n > uint64(len(base)) || start+n < start {
				return nil, ierr.Corruption("delta: copy(%d,%d) exceeds base length %d", start, n, len(base))
			}
			out = append(out, base[start:start+n]...)
		case op == 0:
			return nil, ierr.MalformedInput("delta: reserved opcode 0x00")
		default:
			// Insert: low 7 bits are the literal length.
			n := int(op)
			if pos+n > len(delta) {
				return nil, ierr.MalformedInput("delta: truncated insert literal")
			}
			out = append(out, delta[pos:pos+n]...)
			pos += n
		}
		if uint64(len(out)) > targetSize {
			return nil, ierr.Corruption("delta: output exceeds declared target size %d", targetSize)
		}
	}
	if uint64(len(out)) != targetSize {
		return nil, ierr.Corruption("delta: output %d bytes, declared target size %d", len(out), targetSize)
	}
	return out, nil
}

// readSizeVarint decodes one of the two little-endian, 7-bit-per-byte
// header size varints (source size, target size).
func readSizeVarint(delta []byte, at int) (uint64, int, error) {
	var size uint64
	var shift uint
	pos := at
	for {
		if pos >= len(delta) {
			return 0, 0, ierr.MalformedInput("delta: truncated size header")
		}
		b := delta[pos]
		pos++
		size |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return size, pos, nil
}

func writeSizeVarint(buf *bytes.Buffer, size uint64) {
	for {
		b := byte(size & 0x7f)
		size >>= 7
		if size != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if size == 0 {
			return
		}
	}
}

// copyOp is a candidate [offset,size) region copied verbatim from base.
type copyOp struct {
	offset, size uint32
}

// Build produces a delta that, applied to base, yields target. It finds
// copyable regions with a simple rolling-hash chunk index over base (a
// greedy single-pass matcher, not an optimal diff — sufficient for thin-
// pack construction where the goal is "smaller than sending target whole",
// not minimal delta size).
func Build(base, target []byte) []byte {
	var buf bytes.Buffer
	writeSizeVarint(&buf, uint64(len(base)))
	writeSizeVarint(&buf, uint64(len(target)))

	const blockSize = 16
	index := make(map[uint64][]uint32)
	if len(base) >= blockSize {
		for i := 0; i+blockSize <= len(base); i += blockSize {
			h := blockHash(base[i : i+blockSize])
			index[h] = append(index[h], uint32(i))
		}
	}

	pos := 0
	var literal []byte
	flushLiteral := func() {
		for len(literal) > 0 {
			n := len(literal)
			if n > 0x7f {
				n = 0x7f
			}
			buf.WriteByte(byte(n))
			buf.Write(literal[:n])
			literal = literal[n:]
		}
	}

	for pos < len(target) {
		match, ok := bestMatch(base, target, pos, index, blockSize)
		if !ok {
			literal = append(literal, target[pos])
			pos++
			continue
		}
		flushLiteral()
		writeCopyOp(&buf, match.offset, match.size)
		pos += int(match.size)
	}
	flushLiteral()
	return buf.Bytes()
}

func blockHash(b []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

func bestMatch(base, target []byte, pos int, index map[uint64][]uint32, blockSize int) (copyOp, bool) {
	if pos+blockSize > len(target) {
		return copyOp{}, false
	}
	h := blockHash(target[pos : pos+blockSize])
	candidates, ok := index[h]
	if !ok {
		return copyOp{}, false
	}
	var best copyOp
	bestLen := 0
	for _, c := range candidates {
		n := extendMatch(base, target, int(c), pos)
		if n > bestLen {
			bestLen = n
			best = copyOp{offset: c, size: uint32(n)}
		}
	}
	if bestLen < blockSize {
		return copyOp{}, false
	}
	return best, true
}

func extendMatch(base, target []byte, baseAt, targetAt int) int {
	n := 0
	for baseAt+n < len(base) && targetAt+n < len(target) && base[baseAt+n] == target[targetAt+n] && n < maxCopySize {
		n++
	}
	return n
}

func writeCopyOp(buf *bytes.Buffer, offset, size uint32) {
	var offBytes, sizeBytes [4]byte
	offBytes[0] = byte(offset)
	offBytes[1] = byte(offset >> 8)
	offBytes[2] = byte(offset >> 16)
	offBytes[3] = byte(offset >> 24)
	sizeBytes[0] = byte(size)
	sizeBytes[1] = byte(size >> 8)
	sizeBytes[2] = byte(size >> 16)

	op := byte(0x80)
	var tail []byte
	for i := 0; i < 4; i++ {
		if offBytes[i] != 0 || (i == 0 && offset == 0) {
			if offBytes[i] != 0 {
				op |= 1 << uint(i)
				tail = append(tail, offBytes[i])
			}
		}
	}
	for i := 0; i < 3; i++ {
		if sizeBytes[i] != 0 {
			op |= 1 << uint(4+i)
			tail = append(tail, sizeBytes[i])
		}
	}
	buf.WriteByte(op)
	buf.Write(tail)
}
