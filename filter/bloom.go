package filter

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/nyxcrawl/scrapyengine/request"
)

// bloomHashes is the number of independent bit positions derived per
// fingerprint. A fixed small k keeps false-positive math predictable
// without exposing another setting.
const bloomHashes = 7

// BloomFilter trades a small, bounded false-positive rate for a fixed
// memory footprint regardless of how many fingerprints have been seen —
// the right tradeoff for very large crawls where an exact set would
// grow without bound. BLOOMFILTER_BIT is an absolute bit count, not a
// per-item ratio (see SPEC_FULL.md).
type BloomFilter struct {
	mu   sync.Mutex
	bits *bitset.BitSet
	size uint
}

// NewBloomFilter allocates a bit array of exactly bits bits.
func NewBloomFilter(bits uint) *BloomFilter {
	if bits == 0 {
		bits = 1 << 24
	}
	return &BloomFilter{bits: bitset.New(bits), size: bits}
}

func (f *BloomFilter) positions(fp string) [bloomHashes]uint {
	var positions [bloomHashes]uint
	h1 := fnv.New64a()
	h1.Write([]byte(fp))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(fp))
	sum2 := h2.Sum64()

	// Double hashing (Kirsch-Mitzenmacher): derive k positions from two
	// independent hashes instead of running k separate hash functions.
	for i := 0; i < bloomHashes; i++ {
		combined := sum1 + uint64(i)*sum2
		positions[i] = uint(combined % uint64(f.size))
	}
	return positions
}

func (f *BloomFilter) Seen(ctx context.Context, r *request.Request) (bool, error) {
	fp, err := fingerprintOf(r)
	if err != nil {
		return false, err
	}
	positions := f.positions(fp)

	f.mu.Lock()
	defer f.mu.Unlock()

	allSet := true
	for _, p := range positions {
		if !f.bits.Test(p) {
			allSet = false
			break
		}
	}
	if allSet {
		return true, nil
	}
	for _, p := range positions {
		f.bits.Set(p)
	}
	return false, nil
}

// Release is a no-op: a Bloom filter cannot un-set bits without risking
// false negatives for other fingerprints sharing them, so a released
// fingerprint stays seen. Wrapping a BloomFilter in RetryableFilter does
// not change that.
func (f *BloomFilter) Release(ctx context.Context, r *request.Request, reason string) error {
	return nil
}

func (f *BloomFilter) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits = bitset.New(f.size)
	return nil
}

func (f *BloomFilter) Close() error { return nil }
