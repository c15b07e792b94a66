// Package bloomcache implements the existence-check fast path sitting in
// front of the tablet engine's durable storage: a segmented Bloom filter
// (no false negatives, bounded false-positive rate) backstopped by an
// exact LRU cache of recently-seen hashes, so a "definitely absent"
// answer from the Bloom filter never has to touch a tablet scan and a
// false positive only costs one confirming lookup.
//
// The exact cache is grounded on pkg/serve/odb/cache.go's ristretto
// wrapper (same NumCounters/MaxCost/BufferItems construction). The Bloom
// bit-vector is grounded on bits-and-blooms/bitset, part of the AKJUS-bsc-
// erigon dependency surface — the teacher itself has no Bloom filter, so
// this package's bit-level mechanics are new, following bitset's own
// idiom (explicit Set/Test over a *bitset.BitSet) rather than inventing a
// private bit-vector.
package bloomcache

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/antgroup/hugescm/internal/objfmt"
)

// numHashes is k in the standard Bloom construction: the number of bit
// positions each element sets, derived via double hashing (Kirsch-
// Mitzenmacher) from two independent hash halves rather than k separate
// hash functions.
const numHashes = 7

// Segment is one generation's Bloom bit-vector: tablets flushed within the
// same compaction epoch share a segment so that compaction can retire a
// whole segment at once instead of rebuilding a single filter hash by
// hash.
type Segment struct {
	bits *bitset.BitSet
	m    uint
}

// NewSegment allocates a segment sized for approximately n elements at the
// given target false-positive rate (e.g. 0.01).
func NewSegment(n int, falsePositiveRate float64) *Segment {
	m := optimalM(n, falsePositiveRate)
	return &Segment{bits: bitset.New(m), m: m}
}

func optimalM(n int, p float64) uint {
	if n <= 0 {
		n = 1
	}
	// m = -(n * ln(p)) / (ln(2)^2), rounded up; avoids importing math/big
	// for what's ultimately a capacity-planning heuristic, not an exact
	// commitment — oversizing costs memory, never correctness.
	const ln2Squared = 0.4804530139182014
	m := uint(float64(n) * -math.Log(p) / ln2Squared)
	if m < 64 {
		m = 64
	}
	return m
}

// Add sets this hash's k bit positions.
func (s *Segment) Add(h objfmt.Hash) {
	h1, h2 := splitHash(h)
	for i := uint64(0); i < numHashes; i++ {
		pos := (h1 + i*h2) % uint64(s.m)
		s.bits.Set(uint(pos))
	}
}

// MaybeContains reports whether every one of the hash's k bit positions is
// set. false is a definitive answer (no false negatives); true requires a
// confirming exact-cache or tablet lookup.
func (s *Segment) MaybeContains(h objfmt.Hash) bool {
	h1, h2 := splitHash(h)
	for i := uint64(0); i < numHashes; i++ {
		pos := (h1 + i*h2) % uint64(s.m)
		if !s.bits.Test(uint(pos)) {
			return false
		}
	}
	return true
}

func splitHash(h objfmt.Hash) (uint64, uint64) {
	var a, b uint64
	for i := 0; i < 8; i++ {
		a = a<<8 | uint64(h[i])
	}
	for i := 8; i < 16; i++ {
		b = b<<8 | uint64(h[i])
	}
	if b == 0 {
		b = 1 // double hashing degenerates if the second hash is 0
	}
	return a, b
}

// Cache layers rolling Bloom segments in front of an exact ristretto
// cache. Segment rollover happens at tablet-write boundaries (the tablet
// engine calls NewSegment and RetireSegment after each flush or merge); a
// segment is only dropped
// once every tablet it covers has itself been retired.
type Cache struct {
	segments []*Segment
	exact    *ristretto.Cache[string, struct{}]
}

type Config struct {
	NumCounters int64
	MaxCostGiB  int64
	BufferItems int64
}

func New(cfg Config) (*Cache, error) {
	exact, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCostGiB << 30,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("bloomcache: unable to initialize exact cache: %w", err)
	}
	return &Cache{exact: exact}, nil
}

// NewSegment starts a fresh, empty segment for the current write epoch,
// appending it to the active set.
func (c *Cache) NewSegment(expectedSize int, falsePositiveRate float64) *Segment {
	seg := NewSegment(expectedSize, falsePositiveRate)
	c.segments = append(c.segments, seg)
	return seg
}

// RecordPut marks h present in both the exact cache and the given segment
// (normally the most recently opened one, for the tablet currently being
// written).
func (c *Cache) RecordPut(seg *Segment, h objfmt.Hash) {
	seg.Add(h)
	c.exact.Set(h.String(), struct{}{}, 1)
}

// MaybeHas returns true immediately if the exact cache confirms presence.
// Otherwise it returns true only if some live segment's Bloom filter
// claims the hash might be present — callers must still confirm against
// the tablet index before trusting a Bloom hit as a real answer; a false
// return is authoritative.
func (c *Cache) MaybeHas(h objfmt.Hash) bool {
	if _, ok := c.exact.Get(h.String()); ok {
		return true
	}
	for _, seg := range c.segments {
		if seg.MaybeContains(h) {
			return true
		}
	}
	return false
}

// RetireSegment drops a segment once compaction has folded every tablet it
// covers into one the Bloom layer no longer needs to track separately
// (the merged tablet gets its own fresh segment via NewSegment).
func (c *Cache) RetireSegment(seg *Segment) {
	for i, s := range c.segments {
		if s == seg {
			c.segments = append(c.segments[:i], c.segments[i+1:]...)
			return
		}
	}
}

// Wait blocks until every pending exact-cache write has been applied.
// Ristretto's Set is asynchronous; callers that need a just-written hash
// to be immediately visible to MaybeHas (tests, or a read-your-writes
// path right after a bulk RecordPut) should call this first.
func (c *Cache) Wait() {
	c.exact.Wait()
}

// InvalidateExact removes h from the exact cache — used after a
// compaction or GC sweep changes an object's storage location so a stale
// cache entry can't mask the change.
func (c *Cache) InvalidateExact(h objfmt.Hash) {
	c.exact.Del(h.String())
}
