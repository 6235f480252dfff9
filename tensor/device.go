package tensor

import (
	"context"
	"fmt"
)

// Device is a memory domain Tensors can be transferred to. Accelerator backends implement
// Device to receive minibatches from the pipeline.
type Device interface {
	Name() string
	// Transfer copies t into memory owned by this Device
	Transfer(ctx context.Context, t Tensor) (Tensor, error)
}

type hostDevice struct{}

// CPU is ordinary host memory
var CPU Device = hostDevice{}

func (hostDevice) Name() string {
	return "cpu"
}

func (hostDevice) Transfer(ctx context.Context, t Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := t.(*Dense); ok {
		if err := d.checkLive(); err != nil {
			return nil, err
		}
		return d.Clone(), nil
	}
	data := make([]byte, len(t.Bytes()))
	copy(data, t.Bytes())
	res, err := New(t.DType(), data, t.Shape()...)
	if err != nil {
		return nil, fmt.Errorf("unable to transfer tensor to host: %w", err)
	}
	return res, nil
}
