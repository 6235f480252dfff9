// Package feature provides the Feature backings of a FeatureStore, the FeatureStore itself and
// the Fetcher stage which gathers feature rows for sampled MiniBatches.
package feature

import (
	"context"
	"sync"

	"github.com/go-sif/sifgraph/tensor"
)

// InMemoryFeature is a Feature fully resident in host memory
type InMemoryFeature struct {
	lock sync.RWMutex
	t    *tensor.Dense
}

// NewInMemory creates an InMemoryFeature backed by t, which it takes ownership of
func NewInMemory(t *tensor.Dense) *InMemoryFeature {
	return &InMemoryFeature{t: t}
}

// Read gathers rows by id. A nil ids reads a copy of every row.
func (f *InMemoryFeature) Read(ctx context.Context, ids []int64) (tensor.Tensor, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if ids == nil {
		return f.t.Clone(), nil
	}
	return f.t.GatherRows(ids)
}

// Update overwrites rows by id
func (f *InMemoryFeature) Update(ctx context.Context, ids []int64, values tensor.Tensor) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.t.ScatterRows(ids, values)
}

// NumRows returns the number of rows
func (f *InMemoryFeature) NumRows() int {
	return f.t.NumRows()
}

// RowShape returns the shape of a row
func (f *InMemoryFeature) RowShape() []int {
	return f.t.RowShape()
}

// DType returns the element type
func (f *InMemoryFeature) DType() tensor.DType {
	return f.t.DType()
}
