package feature

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/tensor"
)

// MMapFeature is a Feature backed by a memory-mapped .npy file. Rows are copied out of the
// mapping when read, so returned Tensors remain valid after Close.
type MMapFeature struct {
	lock     sync.RWMutex
	path     string
	file     *os.File
	mapping  mmap.MMap
	view     *tensor.Dense
	header   *tensor.NpyHeader
	writable bool
	closed   bool
}

// OpenMMap maps the .npy file at path. A writable mapping writes updates through to the file.
func OpenMMap(path string, writable bool) (*MMapFeature, error) {
	flag, prot := os.O_RDONLY, mmap.RDONLY
	if writable {
		flag, prot = os.O_RDWR, mmap.RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	header, err := tensor.ReadNpyHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to read header of %s: %w", path, err)
	}
	mapping, err := mmap.Map(f, prot, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to map %s: %w", path, err)
	}
	end := header.DataOffset + header.DataSize()
	if int64(len(mapping)) < end {
		mapping.Unmap()
		f.Close()
		return nil, fmt.Errorf("%s is truncated: expected %d bytes, found %d", path, end, len(mapping))
	}
	view, err := tensor.New(header.DType, mapping[header.DataOffset:end], header.Shape...)
	if err != nil {
		mapping.Unmap()
		f.Close()
		return nil, err
	}
	return &MMapFeature{path: path, file: f, mapping: mapping, view: view, header: header, writable: writable}, nil
}

func (f *MMapFeature) checkOpen() error {
	if f.closed {
		return errors.ReleasedError{What: "memory-mapped feature " + f.path}
	}
	return nil
}

// Read copies rows out of the mapping. A nil ids reads every row.
func (f *MMapFeature) Read(ctx context.Context, ids []int64) (tensor.Tensor, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if ids == nil {
		return f.view.Clone(), nil
	}
	return f.view.GatherRows(ids)
}

// Update writes rows through the mapping. The feature must have been opened writable.
func (f *MMapFeature) Update(ctx context.Context, ids []int64, values tensor.Tensor) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.writable {
		return fmt.Errorf("memory-mapped feature %s is read-only", f.path)
	}
	return f.view.ScatterRows(ids, values)
}

// NumRows returns the number of rows
func (f *MMapFeature) NumRows() int {
	return f.header.Shape[0]
}

// RowShape returns the shape of a row
func (f *MMapFeature) RowShape() []int {
	return append([]int(nil), f.header.Shape[1:]...)
}

// DType returns the element type
func (f *MMapFeature) DType() tensor.DType {
	return f.header.DType
}

// Close flushes any updates and unmaps the file. Closing twice is a no-op.
func (f *MMapFeature) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.writable {
		err = f.mapping.Flush()
	}
	if uerr := f.mapping.Unmap(); uerr != nil && err == nil {
		err = uerr
	}
	if cerr := f.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
