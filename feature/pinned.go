package feature

import (
	"context"
	"sync"

	"github.com/go-sif/sifgraph/tensor"
)

// PinnedFeature is a Feature copied into page-locked host memory. Its memory is held until
// Release, after which every operation returns a ReleasedError.
type PinnedFeature struct {
	lock     sync.RWMutex
	pin      *tensor.Pin
	rowShape []int
	numRows  int
	dtype    tensor.DType
}

// NewPinned copies src into pinned memory
func NewPinned(src tensor.Tensor) (*PinnedFeature, error) {
	pin, err := tensor.AllocPinned(src)
	if err != nil {
		return nil, err
	}
	return &PinnedFeature{
		pin:      pin,
		rowShape: append([]int(nil), src.Shape()[1:]...),
		numRows:  src.NumRows(),
		dtype:    src.DType(),
	}, nil
}

// WithPinned pins a copy of src for the duration of fn, releasing it on every exit path
func WithPinned(src tensor.Tensor, fn func(f *PinnedFeature) error) (err error) {
	f, err := NewPinned(src)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := f.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(f)
}

// Locked reports whether the operating system locked this feature's pages
func (f *PinnedFeature) Locked() bool {
	return f.pin.Locked()
}

// Read gathers rows from pinned memory. A nil ids reads a copy of every row.
func (f *PinnedFeature) Read(ctx context.Context, ids []int64) (tensor.Tensor, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	t, err := f.pin.Tensor()
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return t.Clone(), nil
	}
	return t.GatherRows(ids)
}

// Update overwrites rows in pinned memory
func (f *PinnedFeature) Update(ctx context.Context, ids []int64, values tensor.Tensor) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	t, err := f.pin.Tensor()
	if err != nil {
		return err
	}
	return t.ScatterRows(ids, values)
}

// Release unlocks and frees the pinned memory
func (f *PinnedFeature) Release() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.pin.Release()
}

// Close releases the pinned memory unless it has already been released
func (f *PinnedFeature) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, err := f.pin.Tensor(); err != nil {
		return nil
	}
	return f.pin.Release()
}

// NumRows returns the number of rows
func (f *PinnedFeature) NumRows() int {
	return f.numRows
}

// RowShape returns the shape of a row
func (f *PinnedFeature) RowShape() []int {
	return append([]int(nil), f.rowShape...)
}

// DType returns the element type
func (f *PinnedFeature) DType() tensor.DType {
	return f.dtype
}
