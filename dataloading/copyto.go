package dataloading

import (
	"context"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/tensor"
)

// CopyTo is a Stage which transfers every tensor of a MiniBatch to a Device. It should be the
// last Stage of a pipeline.
type CopyTo struct {
	Device tensor.Device // defaults to tensor.CPU
	// NonBlocking returns the MiniBatch as soon as the transfer has begun. Consumers must call
	// MiniBatch.Wait before touching its tensors.
	NonBlocking bool
}

// Name returns the name of this Stage
func (c *CopyTo) Name() string {
	return "copy_to"
}

// Process transfers the tensors of mb
func (c *CopyTo) Process(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
	dev := c.Device
	if dev == nil {
		dev = tensor.CPU
	}
	if !c.NonBlocking {
		if err := mb.To(sctx, dev); err != nil {
			return nil, err
		}
		return mb, nil
	}
	// the transfer outlives the pipeline run, which ends once the last batch is delivered
	transferCtx := context.WithoutCancel(sctx)
	var transferErr error
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		transferErr = mb.To(transferCtx, dev)
	}()
	mb.SetPending(func(ctx context.Context) error {
		select {
		case <-finished:
			return transferErr
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return mb, nil
}
