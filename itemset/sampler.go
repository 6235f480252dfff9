package itemset

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/go-sif/sifgraph"
)

// SamplerOptions configure a MinibatchSampler
type SamplerOptions struct {
	BatchSize int  // [REQUIRED] number of items per batch
	DropLast  bool // drop the final batch when it is smaller than BatchSize
	Shuffle   bool // visit items in a seeded random order, which differs every epoch
	Seed      uint64
}

// MinibatchSampler splits Items into ItemBatches. It is immutable, and every epoch it produces
// is independent.
type MinibatchSampler struct {
	items   Items
	opts    *SamplerOptions
	keys    []string
	offsets []int
}

// NewMinibatchSampler creates a MinibatchSampler over items
func NewMinibatchSampler(items Items, opts *SamplerOptions) (*MinibatchSampler, error) {
	if opts == nil || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("minibatch sampler requires a positive batch size")
	}
	s := &MinibatchSampler{items: items, opts: opts, keys: items.Keys()}
	s.offsets = make([]int, len(s.keys)+1)
	for i, key := range s.keys {
		s.offsets[i+1] = s.offsets[i] + items.Set(key).Len()
	}
	return s, nil
}

// NumItems returns the number of items visited per epoch, before dropping a partial batch
func (s *MinibatchSampler) NumItems() int {
	return s.offsets[len(s.keys)]
}

// NumBatches returns the number of batches produced per epoch
func (s *MinibatchSampler) NumBatches() int {
	n, bs := s.NumItems(), s.opts.BatchSize
	if n%bs > 0 && !s.opts.DropLast {
		return n/bs + 1
	}
	return n / bs
}

// Epoch returns an iterator over the batches of an epoch
func (s *MinibatchSampler) Epoch(epoch int) *EpochIterator {
	var order []int
	if s.opts.Shuffle {
		rng := rand.New(rand.NewPCG(s.opts.Seed, uint64(epoch)))
		order = rng.Perm(s.NumItems())
	}
	return &EpochIterator{sampler: s, order: order, numBatches: s.NumBatches()}
}

// EpochIterator produces the ItemBatches of one epoch. It is not safe for concurrent use.
type EpochIterator struct {
	sampler    *MinibatchSampler
	order      []int
	numBatches int
	next       int
}

// HasNext returns true if there are more batches in this epoch
func (it *EpochIterator) HasNext() bool {
	return it.next < it.numBatches
}

// NextBatch returns the next ItemBatch, or nil at the end of the epoch
func (it *EpochIterator) NextBatch() *sifgraph.ItemBatch {
	if !it.HasNext() {
		return nil
	}
	s := it.sampler
	start := it.next * s.opts.BatchSize
	end := start + s.opts.BatchSize
	if end > s.NumItems() {
		end = s.NumItems()
	}
	// group positions by key, preserving the visiting order within each key
	perKey := make(map[int][]int64)
	for pos := start; pos < end; pos++ {
		global := pos
		if it.order != nil {
			global = it.order[pos]
		}
		k := sort.Search(len(s.keys), func(i int) bool { return s.offsets[i+1] > global })
		perKey[k] = append(perKey[k], int64(global-s.offsets[k]))
	}
	batch := &sifgraph.ItemBatch{
		Index:   it.next,
		Keyed:   s.items.Keyed(),
		Columns: make(map[string]sifgraph.ItemColumns, len(perKey)),
	}
	for k, idx := range perKey {
		batch.Columns[s.keys[k]] = s.items.Set(s.keys[k]).take(idx)
	}
	it.next++
	return batch
}
