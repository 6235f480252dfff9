package sifgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-sif/sifgraph/tensor"
	"golang.org/x/sync/errgroup"
)

// FeatureKey identifies a feature of a node or edge type within a MiniBatch. Homogeneous
// graphs use DefaultNodeType or DefaultEdgeType as the Type.
type FeatureKey struct {
	Type string
	Name string
}

// NodePairs are aligned source and destination lists, used for link prediction items
type NodePairs struct {
	Src []int64
	Dst []int64
}

// MiniBatch is the unit of work flowing through a sampling pipeline. It is created by a collate
// step, filled in by each Stage, and handed to the consumer. A MiniBatch is never reused.
type MiniBatch struct {
	// Index is the position of this batch within its epoch
	Index int
	// Seeds are the output nodes of the batch
	Seeds IDs
	// Labels are per-type label tensors aligned with Seeds
	Labels map[string]tensor.Tensor
	// NodePairs are link prediction pairs per edge type, compacted against Seeds
	NodePairs map[EdgeType]NodePairs
	// InputNodes are the global ids needed by the input layer, once blocks have been sampled
	InputNodes IDs
	// Blocks are the sampled layers, input layer first. The last Block's destination nodes are Seeds.
	Blocks []*Block
	// NodeFeatures are rows of node features aligned with InputNodes
	NodeFeatures map[FeatureKey]tensor.Tensor
	// EdgeFeatures holds, for every Block, rows of edge features aligned with that Block's EdgeIDs
	EdgeFeatures []map[FeatureKey]tensor.Tensor

	device      tensor.Device
	pendingLock sync.Mutex
	pending     func(ctx context.Context) error
}

// NewMiniBatch creates an empty MiniBatch for the given seeds
func NewMiniBatch(index int, seeds IDs) *MiniBatch {
	return &MiniBatch{
		Index:        index,
		Seeds:        seeds,
		Labels:       make(map[string]tensor.Tensor),
		NodeFeatures: make(map[FeatureKey]tensor.Tensor),
		device:       tensor.CPU,
	}
}

// Device returns the Device this MiniBatch's tensors were last transferred to
func (mb *MiniBatch) Device() tensor.Device {
	if mb.device == nil {
		return tensor.CPU
	}
	return mb.device
}

// To transfers every tensor of this MiniBatch to dev, concurrently
func (mb *MiniBatch) To(ctx context.Context, dev tensor.Device) error {
	type transfer struct {
		desc  string
		src   tensor.Tensor
		store func(t tensor.Tensor)
	}
	// collect every tensor first, so that no map is written while it is being ranged over
	var transfers []transfer
	collect := func(m map[FeatureKey]tensor.Tensor) {
		for k, t := range m {
			k := k
			transfers = append(transfers, transfer{
				desc:  fmt.Sprintf("feature %s/%s", k.Type, k.Name),
				src:   t,
				store: func(moved tensor.Tensor) { m[k] = moved },
			})
		}
	}
	collect(mb.NodeFeatures)
	for _, ef := range mb.EdgeFeatures {
		collect(ef)
	}
	for ntype, t := range mb.Labels {
		ntype := ntype
		transfers = append(transfers, transfer{
			desc:  "labels of " + ntype,
			src:   t,
			store: func(moved tensor.Tensor) { mb.Labels[ntype] = moved },
		})
	}
	moved := make([]tensor.Tensor, len(transfers))
	g, gctx := errgroup.WithContext(ctx)
	for i := range transfers {
		i := i
		g.Go(func() error {
			t, err := transfers[i].src.To(gctx, dev)
			if err != nil {
				return fmt.Errorf("unable to transfer %s to %s: %w", transfers[i].desc, dev.Name(), err)
			}
			moved[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, tr := range transfers {
		tr.store(moved[i])
	}
	mb.device = dev
	return nil
}

// SetPending records an asynchronous operation on this MiniBatch which Wait will join
func (mb *MiniBatch) SetPending(wait func(ctx context.Context) error) {
	mb.pendingLock.Lock()
	defer mb.pendingLock.Unlock()
	mb.pending = wait
}

// Wait blocks until any pending asynchronous operation on this MiniBatch completes
func (mb *MiniBatch) Wait(ctx context.Context) error {
	mb.pendingLock.Lock()
	wait := mb.pending
	mb.pendingLock.Unlock()
	if wait == nil {
		return nil
	}
	return wait(ctx)
}
