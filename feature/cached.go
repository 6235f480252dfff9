package feature

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/tensor"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/moby/locker"
)

// CacheStats count the row lookups of a CachedFeature
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// CachedFeature keeps recently read rows of another Feature in a bounded LRU cache. Updates
// write through to the underlying Feature and invalidate the cached rows.
type CachedFeature struct {
	inner    sifgraph.Feature
	cache    *lru.Cache[int64, []byte]
	rowLocks *locker.Locker
	rowBytes int
	hits     uint64
	misses   uint64

	// removed counts every row leaving the cache, including invalidations
	removed       uint64
	invalidations uint64
}

// NewCached wraps inner with a cache of up to capacity rows
func NewCached(inner sifgraph.Feature, capacity int) (*CachedFeature, error) {
	f := &CachedFeature{inner: inner, rowLocks: locker.New()}
	cache, err := lru.NewWithEvict(capacity, func(id int64, row []byte) {
		atomic.AddUint64(&f.removed, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create row cache: %w", err)
	}
	f.cache = cache
	f.rowBytes = inner.DType().Size()
	for _, d := range inner.RowShape() {
		f.rowBytes *= d
	}
	return f, nil
}

func rowName(id int64) string {
	return strconv.FormatInt(id, 10)
}

// lockRows locks rows in ascending order, so that concurrent callers cannot deadlock
func (f *CachedFeature) lockRows(ids []int64) func() {
	for _, id := range ids {
		f.rowLocks.Lock(rowName(id))
	}
	return func() {
		for _, id := range ids {
			f.rowLocks.Unlock(rowName(id))
		}
	}
}

func uniqueSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}

// Read gathers rows, serving cached rows from memory and fetching the rest from the underlying
// Feature. A nil ids bypasses the cache.
func (f *CachedFeature) Read(ctx context.Context, ids []int64) (tensor.Tensor, error) {
	if ids == nil {
		return f.inner.Read(ctx, nil)
	}
	numRows := int64(f.inner.NumRows())
	rows := make(map[int64][]byte, len(ids))
	var missing []int64
	for _, id := range ids {
		if id < 0 || id >= numRows {
			return nil, errors.OutOfRangeError{What: "cached feature rows", ID: id, Bound: numRows}
		}
		if _, seen := rows[id]; seen {
			continue
		}
		if row, ok := f.cache.Get(id); ok {
			atomic.AddUint64(&f.hits, 1)
			rows[id] = row
		} else {
			rows[id] = nil
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		missing = uniqueSorted(missing)
		unlock := f.lockRows(missing)
		err := f.fill(ctx, missing, rows)
		unlock()
		if err != nil {
			return nil, err
		}
	}
	data := make([]byte, 0, len(ids)*f.rowBytes)
	for _, id := range ids {
		data = append(data, rows[id]...)
	}
	return tensor.New(f.inner.DType(), data, append([]int{len(ids)}, f.inner.RowShape()...)...)
}

// fill fetches rows which are still missing once their locks are held
func (f *CachedFeature) fill(ctx context.Context, missing []int64, rows map[int64][]byte) error {
	var fetch []int64
	for _, id := range missing {
		if row, ok := f.cache.Get(id); ok {
			atomic.AddUint64(&f.hits, 1)
			rows[id] = row
			continue
		}
		fetch = append(fetch, id)
	}
	if len(fetch) == 0 {
		return nil
	}
	atomic.AddUint64(&f.misses, uint64(len(fetch)))
	t, err := f.inner.Read(ctx, fetch)
	if err != nil {
		return err
	}
	data := t.Bytes()
	for i, id := range fetch {
		row := make([]byte, f.rowBytes)
		copy(row, data[i*f.rowBytes:(i+1)*f.rowBytes])
		rows[id] = row
		f.cache.Add(id, row)
	}
	return nil
}

// Update writes rows through to the underlying Feature and evicts them from the cache
func (f *CachedFeature) Update(ctx context.Context, ids []int64, values tensor.Tensor) error {
	unlock := f.lockRows(uniqueSorted(ids))
	defer unlock()
	if err := f.inner.Update(ctx, ids, values); err != nil {
		return err
	}
	for _, id := range ids {
		if f.cache.Remove(id) {
			atomic.AddUint64(&f.invalidations, 1)
		}
	}
	return nil
}

// Stats returns the lookup counters of this cache
func (f *CachedFeature) Stats() CacheStats {
	invalidations := atomic.LoadUint64(&f.invalidations)
	return CacheStats{
		Hits:          atomic.LoadUint64(&f.hits),
		Misses:        atomic.LoadUint64(&f.misses),
		Evictions:     atomic.LoadUint64(&f.removed) - invalidations,
		Invalidations: invalidations,
	}
}

// NumRows returns the number of rows
func (f *CachedFeature) NumRows() int {
	return f.inner.NumRows()
}

// RowShape returns the shape of a row
func (f *CachedFeature) RowShape() []int {
	return f.inner.RowShape()
}

// DType returns the element type
func (f *CachedFeature) DType() tensor.DType {
	return f.inner.DType()
}
