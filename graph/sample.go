package graph

import (
	"fmt"
	"math/rand/v2"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// AllNeighbors is the fanout which selects every in-edge of a node
const AllNeighbors = -1

// SampledSubgraph is the result of sampling one layer of neighbors. For every edge type whose
// destination node type was seeded, Pairs holds the sampled edges as type-local (src, dst) ids,
// grouped by destination in seed order, and EdgeIDs holds their type-local edge ids. The pairs
// sampled for the seed at position i of its type are Pairs[etype][SeedOffsets[etype][i]:
// SeedOffsets[etype][i+1]], so repeated seeds keep separate neighborhoods.
type SampledSubgraph struct {
	Pairs       map[sifgraph.EdgeType]sifgraph.NodePairs
	EdgeIDs     map[sifgraph.EdgeType][]int64
	SeedOffsets map[sifgraph.EdgeType][]int64
}

// NumEdges returns the number of sampled edges across all edge types
func (s *SampledSubgraph) NumEdges() int {
	n := 0
	for _, p := range s.Pairs {
		n += len(p.Src)
	}
	return n
}

// SampleRequest describes one layer of neighbor sampling
type SampleRequest struct {
	// Seeds are type-local destination node ids, per node type
	Seeds map[string][]int64
	// Fanouts are the number of in-edges to pick per seed, per edge type. AllNeighbors picks every
	// edge. Edge types missing from Fanouts are not sampled.
	Fanouts map[sifgraph.EdgeType]int
	// Replace samples with replacement, so that an edge may be picked more than once
	Replace bool
	// Probability names an edge attribute holding non-negative sampling weights. Edges of weight
	// zero are never picked.
	Probability string
}

// SampleNeighbors samples the in-edges of every seed. rng must not be shared with other
// goroutines; the graph itself may be.
func (g *CSCSamplingGraph) SampleNeighbors(rng *rand.Rand, req *SampleRequest) (*SampledSubgraph, error) {
	var probs []float64
	if req.Probability != "" {
		var ok bool
		probs, ok = g.edgeAttributes[req.Probability]
		if !ok {
			return nil, fmt.Errorf("graph has no edge attribute %q", req.Probability)
		}
	}
	for ntype, seeds := range req.Seeds {
		population, err := g.NodeTypePopulation(ntype)
		if err != nil {
			return nil, err
		}
		for _, id := range seeds {
			if id < 0 || id >= population {
				return nil, errors.OutOfRangeError{What: fmt.Sprintf("seed nodes of %s", ntype), ID: id, Bound: population}
			}
		}
	}
	out := &SampledSubgraph{
		Pairs:       make(map[sifgraph.EdgeType]sifgraph.NodePairs),
		EdgeIDs:     make(map[sifgraph.EdgeType][]int64),
		SeedOffsets: make(map[sifgraph.EdgeType][]int64),
	}
	for _, etype := range sifgraph.SortedEdgeTypes(req.Fanouts) {
		fanout := req.Fanouts[etype]
		typeID, ok := g.edgeTypeIDs[etype]
		if !ok {
			return nil, fmt.Errorf("graph has no edge type %q", etype)
		}
		if fanout < AllNeighbors {
			return nil, fmt.Errorf("fanout of %s must be -1 or non-negative, got %d", etype, fanout)
		}
		srcType, _, dstType, err := etype.Split()
		if err != nil {
			return nil, err
		}
		seeds, ok := req.Seeds[dstType]
		if !ok {
			continue
		}
		srcOffset := g.nodeTypeOffset[g.nodeTypeIDs[srcType]]
		dstOffset := g.nodeTypeOffset[g.nodeTypeIDs[dstType]]
		pairs := sifgraph.NodePairs{Src: []int64{}, Dst: []int64{}}
		edgeIDs := []int64{}
		offsets := make([]int64, 1, len(seeds)+1)
		picked := []int64{}
		for _, local := range seeds {
			lo, hi := g.typeSegment(dstOffset+local, typeID)
			picked, err = g.pick(rng, picked[:0], lo, hi, fanout, req.Replace, probs)
			if err != nil {
				return nil, err
			}
			for _, pos := range picked {
				e := g.edgeAt(pos)
				pairs.Src = append(pairs.Src, g.indices[e]-srcOffset)
				pairs.Dst = append(pairs.Dst, local)
				edgeIDs = append(edgeIDs, g.localEdgeID(e))
			}
			offsets = append(offsets, int64(len(pairs.Src)))
		}
		out.Pairs[etype] = pairs
		out.EdgeIDs[etype] = edgeIDs
		out.SeedOffsets[etype] = offsets
	}
	return out, nil
}

// pick appends to dst the sorted-edge positions in [lo, hi) chosen for one seed
func (g *CSCSamplingGraph) pick(rng *rand.Rand, dst []int64, lo, hi int64, fanout int, replace bool, probs []float64) ([]int64, error) {
	n := hi - lo
	if n == 0 || fanout == 0 {
		return dst, nil
	}
	if probs != nil {
		return g.pickWeighted(rng, dst, lo, hi, fanout, replace, probs)
	}
	if fanout == AllNeighbors || (!replace && int64(fanout) >= n) {
		for pos := lo; pos < hi; pos++ {
			dst = append(dst, pos)
		}
		return dst, nil
	}
	if replace {
		for range fanout {
			dst = append(dst, lo+rng.Int64N(n))
		}
		return dst, nil
	}
	start := len(dst)
	dst = append(dst, make([]int64, fanout)...)
	randKOfN(rng, dst[start:], n)
	for i := start; i < len(dst); i++ {
		dst[i] += lo
	}
	return dst, nil
}

func (g *CSCSamplingGraph) pickWeighted(rng *rand.Rand, dst []int64, lo, hi int64, fanout int, replace bool, probs []float64) ([]int64, error) {
	weights := make([]float64, hi-lo)
	nonzero := 0
	for i := range weights {
		e := g.edgeAt(lo + int64(i))
		w := probs[e]
		if !validProbability(w) {
			return nil, fmt.Errorf("edge %d has invalid sampling probability %v", e, w)
		}
		weights[i] = w
		if w > 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		return dst, nil
	}
	if fanout == AllNeighbors || (!replace && fanout >= nonzero) {
		for i, w := range weights {
			if w > 0 {
				dst = append(dst, lo+int64(i))
			}
		}
		return dst, nil
	}
	sampler := sampleuv.NewWeighted(weights, rng)
	for range fanout {
		i, ok := sampler.Take()
		if !ok {
			break
		}
		dst = append(dst, lo+int64(i))
		if replace {
			sampler.Reweight(i, weights[i])
		}
	}
	return dst, nil
}
