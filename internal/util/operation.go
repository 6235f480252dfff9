package util

import (
	"fmt"

	"github.com/go-sif/sifgraph"
)

// SafeStage wraps a Stage such that panics are recovered and nice error messages are constructed
func SafeStage(stage sifgraph.Stage) func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
	return func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (out *sifgraph.MiniBatch, err error) {
		defer func() {
			if r := recover(); r != nil {
				out = nil
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("Stage %s Panic: %w\nBatch: %d\n%s", stage.Name(), anErr, mb.Index, GetTrace())
				} else {
					err = fmt.Errorf("Stage %s Panic: %v\nBatch: %d\n%s", stage.Name(), r, mb.Index, GetTrace())
				}
			}
		}()
		out, err = stage.Process(sctx, mb)
		if err == nil && out == nil {
			err = fmt.Errorf("Stage %s returned no minibatch for batch %d", stage.Name(), mb.Index)
		}
		return
	}
}

// SafeCollator wraps a Collator such that panics are recovered and nice error messages are constructed
func SafeCollator(collate sifgraph.Collator) sifgraph.Collator {
	return func(sctx sifgraph.StageContext, batch *sifgraph.ItemBatch) (mb *sifgraph.MiniBatch, err error) {
		defer func() {
			if r := recover(); r != nil {
				mb = nil
				if anErr, ok := r.(error); ok {
					err = fmt.Errorf("Collate Panic: %w\nBatch: %d\n%s", anErr, batch.Index, GetTrace())
				} else {
					err = fmt.Errorf("Collate Panic: %v\nBatch: %d\n%s", r, batch.Index, GetTrace())
				}
			}
		}()
		mb, err = collate(sctx, batch)
		if err == nil && mb == nil {
			err = fmt.Errorf("Collate returned no minibatch for batch %d", batch.Index)
		}
		return
	}
}
