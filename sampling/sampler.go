// Package sampling builds the multi-layer Blocks of a MiniBatch by repeated neighbor sampling
// and compaction, starting from the seeds and working outwards.
package sampling

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/compaction"
	"github.com/go-sif/sifgraph/graph"
)

// Fanouts are the per-layer fanouts of a NeighborSampler, input layer first. Layers applies to
// every edge type without an entry in PerEdgeType.
type Fanouts struct {
	Layers      []int
	PerEdgeType map[sifgraph.EdgeType][]int
}

// Options configure a NeighborSampler
type Options struct {
	Fanouts Fanouts // [REQUIRED] fanouts per layer. The last layer is sampled first.
	// Replace samples neighbors with replacement
	Replace bool
	// Probability names an edge attribute of non-negative sampling weights
	Probability string
	// KeepDuplicates skips deduplication of sampled source nodes, so that every sampled edge
	// contributes its own source node to the next layer
	KeepDuplicates bool
}

// NeighborSampler is a Stage which samples the Blocks of a MiniBatch from its Seeds
type NeighborSampler struct {
	graph     *graph.CSCSamplingGraph
	opts      *Options
	numLayers int
	// fanouts holds the resolved fanouts of each layer, per edge type
	fanouts []map[sifgraph.EdgeType]int
}

// NewNeighborSampler validates opts against g and creates a NeighborSampler
func NewNeighborSampler(g *graph.CSCSamplingGraph, opts *Options) (*NeighborSampler, error) {
	if opts == nil {
		return nil, fmt.Errorf("neighbor sampler requires options")
	}
	numLayers := -1
	checkLayers := func(what string, layers []int) error {
		if numLayers >= 0 && len(layers) != numLayers {
			return fmt.Errorf("%s has %d fanouts, expected %d", what, len(layers), numLayers)
		}
		numLayers = len(layers)
		for _, f := range layers {
			if f < graph.AllNeighbors {
				return fmt.Errorf("%s has invalid fanout %d: fanouts must be -1 or non-negative", what, f)
			}
		}
		return nil
	}
	if opts.Fanouts.Layers != nil {
		if err := checkLayers("fanouts", opts.Fanouts.Layers); err != nil {
			return nil, err
		}
	}
	known := make(map[sifgraph.EdgeType]bool)
	for _, etype := range g.EdgeTypes() {
		known[etype] = true
	}
	for _, etype := range sifgraph.SortedEdgeTypes(opts.Fanouts.PerEdgeType) {
		if !known[etype] {
			return nil, fmt.Errorf("fanouts given for unknown edge type %s", etype)
		}
		if err := checkLayers(fmt.Sprintf("edge type %s", etype), opts.Fanouts.PerEdgeType[etype]); err != nil {
			return nil, err
		}
	}
	if numLayers <= 0 {
		return nil, fmt.Errorf("neighbor sampler requires at least one layer of fanouts")
	}
	if opts.Probability != "" && g.EdgeAttribute(opts.Probability) == nil {
		return nil, fmt.Errorf("graph has no edge attribute %q", opts.Probability)
	}
	s := &NeighborSampler{graph: g, opts: opts, numLayers: numLayers, fanouts: make([]map[sifgraph.EdgeType]int, numLayers)}
	for layer := 0; layer < numLayers; layer++ {
		s.fanouts[layer] = make(map[sifgraph.EdgeType]int)
		for _, etype := range g.EdgeTypes() {
			if perType, ok := opts.Fanouts.PerEdgeType[etype]; ok {
				s.fanouts[layer][etype] = perType[layer]
			} else if opts.Fanouts.Layers != nil {
				s.fanouts[layer][etype] = opts.Fanouts.Layers[layer]
			}
		}
	}
	return s, nil
}

// NumLayers returns the number of Blocks produced per MiniBatch
func (s *NeighborSampler) NumLayers() int {
	return s.numLayers
}

// Name returns the name of this Stage
func (s *NeighborSampler) Name() string {
	return "sample_neighbors"
}

// Process samples the Blocks and InputNodes of mb
func (s *NeighborSampler) Process(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
	if mb.Seeds == nil {
		return nil, fmt.Errorf("minibatch %d has no seeds to sample from", mb.Index)
	}
	blocks, inputNodes, err := s.SampleBlocks(sctx, sctx.Rand(), mb.Seeds)
	if err != nil {
		return nil, err
	}
	mb.Blocks = blocks
	mb.InputNodes = inputNodes
	return mb, nil
}

// SampleBlocks samples one Block per layer around seeds, returning the Blocks input layer first
// along with the input nodes of the first Block. Fanouts are applied in reverse, so the last
// fanout is sampled first and produces the Block whose destination nodes are the seeds.
// Duplicate seeds are sampled once.
func (s *NeighborSampler) SampleBlocks(ctx context.Context, rng *rand.Rand, seeds sifgraph.IDs) ([]*sifgraph.Block, sifgraph.IDs, error) {
	homogeneous := sifgraph.IsHomogeneous(seeds)
	if homogeneous != s.graph.IsHomogeneous() {
		return nil, nil, fmt.Errorf("seed ids do not match the graph: homogeneous seeds %t, homogeneous graph %t", homogeneous, s.graph.IsHomogeneous())
	}
	current := make(map[string][]int64)
	for ntype, ids := range sifgraph.Typed(seeds) {
		unique, _ := compaction.UniqueAndCompact([][]int64{ids})
		current[ntype] = unique
	}
	blocks := make([]*sifgraph.Block, s.numLayers)
	for layer := s.numLayers - 1; layer >= 0; layer-- {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		block, err := s.sampleLayer(rng, layer, current, homogeneous)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to sample layer %d: %w", layer, err)
		}
		blocks[layer] = block
		current = block.SrcNodes
	}
	return blocks, sifgraph.FromTyped(current, homogeneous), nil
}

func (s *NeighborSampler) sampleLayer(rng *rand.Rand, layer int, seeds map[string][]int64, homogeneous bool) (*sifgraph.Block, error) {
	sub, err := s.graph.SampleNeighbors(rng, &graph.SampleRequest{
		Seeds:       seeds,
		Fanouts:     s.fanouts[layer],
		Replace:     s.opts.Replace,
		Probability: s.opts.Probability,
	})
	if err != nil {
		return nil, err
	}
	var unique map[string][]int64
	var compacted map[sifgraph.EdgeType]sifgraph.NodePairs
	if s.opts.KeepDuplicates {
		unique, compacted, err = compaction.CompactNodePairs(seedPositions(sub), seeds)
	} else {
		unique, compacted, err = compaction.UniqueAndCompactNodePairsHetero(sub.Pairs, seeds)
	}
	if err != nil {
		return nil, err
	}
	block := &sifgraph.Block{
		SrcNodes:    unique,
		DstNodes:    seeds,
		Edges:       make(map[sifgraph.EdgeType]*sifgraph.CSC, len(compacted)),
		EdgeIDs:     make(map[sifgraph.EdgeType][]int64, len(compacted)),
		Homogeneous: homogeneous,
	}
	for etype, pairs := range compacted {
		csc, perm := toCSC(pairs, len(seeds[etype.DstType()]))
		block.Edges[etype] = csc
		edgeIDs := make([]int64, len(perm))
		for i, p := range perm {
			edgeIDs[i] = sub.EdgeIDs[etype][p]
		}
		block.EdgeIDs[etype] = edgeIDs
	}
	return block, nil
}

// seedPositions rewrites the destination of every sampled pair as the position of the seed it
// was sampled for
func seedPositions(sub *graph.SampledSubgraph) map[sifgraph.EdgeType]sifgraph.NodePairs {
	out := make(map[sifgraph.EdgeType]sifgraph.NodePairs, len(sub.Pairs))
	for etype, pairs := range sub.Pairs {
		offsets := sub.SeedOffsets[etype]
		dst := make([]int64, len(pairs.Dst))
		for pos := 0; pos+1 < len(offsets); pos++ {
			for i := offsets[pos]; i < offsets[pos+1]; i++ {
				dst[i] = int64(pos)
			}
		}
		out[etype] = sifgraph.NodePairs{Src: pairs.Src, Dst: dst}
	}
	return out
}

// toCSC groups compacted pairs by destination, returning the CSC and, for every CSC position,
// the index of the pair it came from
func toCSC(pairs sifgraph.NodePairs, numDst int) (*sifgraph.CSC, []int64) {
	indptr := make([]int64, numDst+1)
	for _, d := range pairs.Dst {
		indptr[d+1]++
	}
	for v := 0; v < numDst; v++ {
		indptr[v+1] += indptr[v]
	}
	next := append([]int64(nil), indptr[:numDst]...)
	indices := make([]int64, len(pairs.Src))
	perm := make([]int64, len(pairs.Src))
	for i, d := range pairs.Dst {
		indices[next[d]] = pairs.Src[i]
		perm[next[d]] = int64(i)
		next[d]++
	}
	return &sifgraph.CSC{Indptr: indptr, Indices: indices}, perm
}
