// Package index provides the per-project in-memory similarity index.
//
// The index favors exactness over approximate-index speedups: every search is
// a full linear scan over the stored vectors with a bounded top-k heap, so an
// insertion is visible to the very next query. At the project scale this
// serves (hundreds to low thousands of images) the scan is well within budget.
package index

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch indicates a vector of the wrong length reached the
	// index. This is a configuration bug, not a recoverable input error.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrClosed indicates the index was closed (evicted) before the operation.
	ErrClosed = errors.New("index is closed")
)

// Record is a stored fingerprint with its insertion sequence number.
// The sequence breaks distance ties deterministically (earlier wins).
type Record struct {
	Identifier string
	Vector     []float32
	Seq        uint64
}

// Match is a single search hit, ranked best-first starting at 1.
type Match struct {
	Identifier string
	Distance   float64
	Rank       int
}

// Index is the similarity index for one project. Insert and Remove are
// serialized by a writer lock; searches run concurrently under read locks, so
// a search observes either the pre- or post-insert state of a record, never a
// torn write.
type Index struct {
	dims    int
	metric  Metric
	mu      sync.RWMutex
	records map[string]*Record
	nextSeq uint64
	closed  bool
}

// New creates an empty index for vectors of the given dimensionality.
func New(dims int, metric Metric) *Index {
	return &Index{
		dims:    dims,
		metric:  metric,
		records: make(map[string]*Record),
	}
}

// Insert adds or atomically replaces the record for identifier.
// The vector is copied; the caller keeps ownership of its slice.
func (idx *Index) Insert(ctx context.Context, identifier string, vector []float32) error {
	if len(vector) != idx.dims {
		return ErrDimensionMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	vec := make([]float32, idx.dims)
	copy(vec, vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}
	idx.nextSeq++
	idx.records[identifier] = &Record{Identifier: identifier, Vector: vec, Seq: idx.nextSeq}
	return nil
}

// InsertIfAbsent adds the record only when the identifier is not already
// present, reporting whether the insert happened. The existence check and the
// insert run under one writer lock, so of two concurrent callers with the
// same identifier exactly one succeeds.
func (idx *Index) InsertIfAbsent(ctx context.Context, identifier string, vector []float32) (bool, error) {
	if len(vector) != idx.dims {
		return false, ErrDimensionMismatch
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	vec := make([]float32, idx.dims)
	copy(vec, vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return false, ErrClosed
	}
	if _, ok := idx.records[identifier]; ok {
		return false, nil
	}
	idx.nextSeq++
	idx.records[identifier] = &Record{Identifier: identifier, Vector: vec, Seq: idx.nextSeq}
	return true, nil
}

// Restore reinstates a previously captured record, preserving its original
// sequence number. Used to roll back a replaced record when durable
// persistence fails after an in-memory insert.
func (idx *Index) Restore(rec Record) error {
	if len(rec.Vector) != idx.dims {
		return ErrDimensionMismatch
	}
	vec := make([]float32, idx.dims)
	copy(vec, rec.Vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}
	idx.records[rec.Identifier] = &Record{Identifier: rec.Identifier, Vector: vec, Seq: rec.Seq}
	if rec.Seq >= idx.nextSeq {
		idx.nextSeq = rec.Seq
	}
	return nil
}

// Get returns a copy of the record for identifier, if present.
func (idx *Index) Get(identifier string) (Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[identifier]
	if !ok {
		return Record{}, false
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	return Record{Identifier: rec.Identifier, Vector: vec, Seq: rec.Seq}, true
}

// Remove deletes the record for identifier. Removing an absent identifier is
// a no-op; the return value reports whether a record existed.
func (idx *Index) Remove(identifier string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return false
	}
	if _, ok := idx.records[identifier]; !ok {
		return false
	}
	delete(idx.records, identifier)
	return true
}

// checkEvery is how many records a search scans between context checks.
const checkEvery = 1024

// Search returns up to k matches ranked best-first. Ties on distance go to
// the record inserted earlier. k <= 0 and an empty index both yield an empty
// result, not an error.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]*Match, error) {
	if len(query) != idx.dims {
		return nil, ErrDimensionMismatch
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}
	if k <= 0 || len(idx.records) == 0 {
		return nil, nil
	}

	h := make(worstFirst, 0, k+1)
	scanned := 0
	for _, rec := range idx.records {
		if scanned%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scanned++
		d := idx.metric.Distance(query, rec.Vector)
		heap.Push(&h, candidate{identifier: rec.Identifier, distance: d, seq: rec.Seq})
		if h.Len() > k {
			heap.Pop(&h)
		}
	}

	sort.Slice(h, func(i, j int) bool {
		if h[i].distance != h[j].distance {
			return h[i].distance < h[j].distance
		}
		return h[i].seq < h[j].seq
	})
	matches := make([]*Match, len(h))
	for i, c := range h {
		matches[i] = &Match{Identifier: c.identifier, Distance: c.distance, Rank: i + 1}
	}
	return matches, nil
}

// Size returns the current record count.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// Close marks the index closed and releases its records. Subsequent inserts
// and searches fail with ErrClosed. Close is idempotent.
func (idx *Index) Close() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return
	}
	idx.closed = true
	idx.records = nil
}

// candidate is a heap entry during search.
type candidate struct {
	identifier string
	distance   float64
	seq        uint64
}

// worstFirst is a max-heap keeping the current worst candidate on top so it
// can be popped when the heap exceeds k. On equal distance the later insertion
// is considered worse, matching the earliest-wins tie break.
type worstFirst []candidate

func (h worstFirst) Len() int { return len(h) }

func (h worstFirst) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance > h[j].distance
	}
	return h[i].seq > h[j].seq
}

func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
