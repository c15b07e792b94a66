// Package objfmt implements the Git object envelope: SHA-1 content
// addressing and the zlib framing packfiles rely on to concatenate streams
// without an explicit length prefix. Grounded on modules/plumbing/hash.go's
// Hash type (same API shape: fixed-size array, String/Shorten/Prefix,
// sortable slice) but sized and hashed per Git's actual object model
// instead of the teacher's BLAKE3/32-byte zeta identity.
package objfmt

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/antgroup/hugescm/internal/ierr"
)

const (
	HashSize    = 20
	HashHexSize = 40
)

// Hash is the 20-byte SHA-1 identity of a Git object.
type Hash [HashSize]byte

var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) Shorten() int {
	i := HashSize - 1
	for ; i >= 2; i-- {
		if h[i] != 0 {
			return i + 1
		}
	}
	return i + 1
}

func (h Hash) Prefix() string {
	return hex.EncodeToString(h[:h.Shorten()])
}

// NewHash decodes a 40-char hex string without validation; callers on a
// trust boundary must call ValidateHashHex first (see §4.E: "Each hash is
// validated to be 40 lowercase hex characters before any store lookup").
func NewHash(s string) Hash {
	var h Hash
	b, _ := hex.DecodeString(s)
	copy(h[:], b)
	return h
}

// ValidateHashHex reports whether s is exactly 40 lowercase hex characters.
func ValidateHashHex(s string) bool {
	if len(s) != HashHexSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// NewHashEx validates then decodes, returning a MalformedInput error on
// failure — the single checkpoint every Smart-HTTP hash must pass through.
func NewHashEx(s string) (Hash, error) {
	if !ValidateHashHex(s) {
		return ZeroHash, ierr.MalformedInput("%q is not a valid 40-hex object id", s)
	}
	return NewHash(s), nil
}

type HashSlice []Hash

func (p HashSlice) Len() int           { return len(p) }
func (p HashSlice) Less(i, j int) bool { return bytes.Compare(p[i][:], p[j][:]) < 0 }
func (p HashSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

func SortHashes(hs []Hash) { sort.Sort(HashSlice(hs)) }

// HashObject returns the SHA-1 (a 20-byte Hash; String gives the 40-char
// lowercase hex) of the Git object envelope "<kind> <len>\0" || payload — §3 identity rule, tested by S1/S2 in §8.
func HashObject(kind ObjectType, payload []byte) Hash {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(payload))
	h.Write(payload)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Envelope returns the exact bytes SHA-1 is computed over, used by the
// pack/loose-object encoders before deflating.
func Envelope(kind ObjectType, payload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\x00", kind, len(payload))
	buf.Write(payload)
	return buf.Bytes()
}
