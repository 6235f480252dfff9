package cluster

import (
	"context"
	"fmt"

	"github.com/go-sif/sifgraph/tensor"
)

// KVFeature is a Feature whose rows are stored in a sifgraph key-value cluster
type KVFeature struct {
	client   *Client
	name     string
	numRows  int
	rowShape []int
}

// NewKVFeature exposes the tensor name as a Feature. The tensor's partition book must already
// be set on client, and every key of the book must be initialized or pushed before it is read.
func NewKVFeature(client *Client, name string, rowShape []int) (*KVFeature, error) {
	book, ok := client.PartitionBook(name)
	if !ok {
		return nil, fmt.Errorf("no partition book is set for %q", name)
	}
	return &KVFeature{client: client, name: name, numRows: int(book.NumKeys()), rowShape: append([]int(nil), rowShape...)}, nil
}

// Read pulls rows in the order of ids. A nil ids reads every row.
func (f *KVFeature) Read(ctx context.Context, ids []int64) (tensor.Tensor, error) {
	if ids == nil {
		ids = make([]int64, f.numRows)
		for i := range ids {
			ids[i] = int64(i)
		}
	}
	return f.client.Pull(ctx, f.name, ids)
}

// Update pushes rows
func (f *KVFeature) Update(ctx context.Context, ids []int64, values tensor.Tensor) error {
	return f.client.Push(ctx, f.name, ids, values)
}

// NumRows returns the number of keys in the tensor's partition book
func (f *KVFeature) NumRows() int {
	return f.numRows
}

// RowShape returns the dimensions of a single row
func (f *KVFeature) RowShape() []int {
	return f.rowShape
}

// DType is always Float32
func (f *KVFeature) DType() tensor.DType {
	return tensor.Float32
}
