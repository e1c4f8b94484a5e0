package util

import (
	"math/bits"
	"sync/atomic"
)

// sizeBuckets covers values up to 1<<(sizeBuckets-1) bytes; larger values
// land in the last bucket.
const sizeBuckets = 41

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram counts stored values by size in power of two buckets, so an
// engine can report size estimates without scanning its data. Bucket i holds
// sizes in (2^(i-1), 2^i]; sizes 0 and 1 share bucket 0.
//
// Thread-safety: all methods are lock free and safe for concurrent use. A
// Snapshot taken during concurrent updates is approximate.
type SizeHistogram struct {
	buckets [sizeBuckets]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// HistogramSnapshot is a point-in-time summary of a SizeHistogram, suitable
// for Info metadata.
type HistogramSnapshot struct {
	Count  int64 `json:"count" yaml:"count"`
	Sum    int64 `json:"sum_bytes" yaml:"sum_bytes"`
	Avg    int   `json:"avg_bytes" yaml:"avg_bytes"`
	Median int   `json:"median_bytes" yaml:"median_bytes"`
	P99    int   `json:"p99_bytes" yaml:"p99_bytes"`
}

func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

func bucketOf(size int) int {
	if size <= 1 {
		return 0
	}
	return min(bits.Len(uint(size-1)), sizeBuckets-1)
}

// bucketMid is the size reported for samples of bucket i.
func bucketMid(i int) int {
	if i == 0 {
		return 1
	}
	lo, hi := 1<<(i-1), 1<<i
	return (lo + hi) / 2
}

// AddSample records a stored value of the given size.
func (h *SizeHistogram) AddSample(size int) {
	h.buckets[bucketOf(size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// RemoveSample reverts a previous AddSample with the same size, e.g. when a
// value is overwritten or removed. Removing from an empty bucket is ignored.
func (h *SizeHistogram) RemoveSample(size int) {
	b := &h.buckets[bucketOf(size)]
	for {
		n := b.Load()
		if n == 0 {
			return
		}
		if b.CompareAndSwap(n, n-1) {
			break
		}
	}
	h.count.Add(-1)
	h.sum.Add(-int64(size))
}

func (h *SizeHistogram) Count() int64 { return h.count.Load() }

func (h *SizeHistogram) Sum() int64 { return h.sum.Load() }

// Percentile estimates the given percentile (0-100) from the bucket counts.
func (h *SizeHistogram) Percentile(p int) int {
	var counts [sizeBuckets]int64
	var total int64
	for i := range h.buckets {
		counts[i] = h.buckets[i].Load()
		total += counts[i]
	}
	return percentile(counts[:], total, p)
}

func percentile(counts []int64, total int64, p int) int {
	if total == 0 || p < 0 || p > 100 {
		return 0
	}
	// ceil(total * p / 100)
	target := (total*int64(p) + 99) / 100
	var seen int64
	for i, c := range counts {
		seen += c
		if seen >= target && seen > 0 {
			return bucketMid(i)
		}
	}
	return bucketMid(len(counts) - 1)
}

// Snapshot returns a summary of the histogram.
func (h *SizeHistogram) Snapshot() HistogramSnapshot {
	var counts [sizeBuckets]int64
	var total int64
	for i := range h.buckets {
		counts[i] = h.buckets[i].Load()
		total += counts[i]
	}

	s := HistogramSnapshot{Count: h.count.Load(), Sum: h.sum.Load()}
	if s.Count > 0 {
		s.Avg = int(s.Sum / s.Count)
		s.Median = percentile(counts[:], total, 50)
		s.P99 = percentile(counts[:], total, 99)
	}
	return s
}

// Reset clears all samples. It is not atomic with respect to concurrent
// AddSample calls.
func (h *SizeHistogram) Reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
	h.count.Store(0)
	h.sum.Store(0)
}
