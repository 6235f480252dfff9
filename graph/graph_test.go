package graph

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

// fiveNodeGraph has edges 0->2, 1->2, 1->3, 2->0, 2->1, 3->1, 3->0, 4->0, 4->1
func fiveNodeGraph(t *testing.T, attrs map[string][]float64) *CSCSamplingGraph {
	g, err := FromCSC(&CSCConfig{
		Indptr:         []int64{0, 3, 6, 8, 9, 9},
		Indices:        []int64{2, 3, 4, 2, 3, 4, 0, 1, 1},
		EdgeAttributes: attrs,
	})
	require.NoError(t, err)
	return g
}

func heteroGraph(t *testing.T) *CSCSamplingGraph {
	g, err := FromCSC(&CSCConfig{
		Indptr:         []int64{0, 0, 0, 3, 4, 5},
		Indices:        []int64{0, 3, 1, 4, 0},
		TypePerEdge:    []int64{0, 1, 0, 1, 0},
		NodeTypeOffset: []int64{0, 2, 5},
		Metadata: &Metadata{
			NodeTypes: map[string]int64{"author": 0, "paper": 1},
			EdgeTypes: map[string]int64{"author:writes:paper": 0, "paper:cites:paper": 1},
		},
	})
	require.NoError(t, err)
	return g
}

func inNeighbors(g *CSCSamplingGraph, v int64) map[int64]bool {
	srcs, _ := g.InEdges(v)
	out := make(map[int64]bool)
	for _, s := range srcs {
		out[s] = true
	}
	return out
}

func TestFromCSCReportsEveryViolation(t *testing.T) {
	_, err := FromCSC(&CSCConfig{
		Indptr:         []int64{1, 0, 2},
		Indices:        []int64{0, 9},
		EdgeAttributes: map[string][]float64{"p": {1}},
	})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 4)
}

func TestFromCSCRejectsInvalidProbabilities(t *testing.T) {
	_, err := FromCSC(&CSCConfig{
		Indptr:  []int64{0, 1, 2},
		Indices: []int64{1, 0},
		EdgeAttributes: map[string][]float64{
			"neg": {-1, 0.5},
			"nan": {0.5, math.NaN()},
			"inf": {math.Inf(1), 0.5},
			"ok":  {0, 0.5},
		},
	})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 3)
	require.Contains(t, err.Error(), `edge attribute "neg" has invalid sampling probability -1`)
	require.Contains(t, err.Error(), `edge attribute "nan" has invalid sampling probability NaN`)
	require.Contains(t, err.Error(), `edge attribute "inf" has invalid sampling probability +Inf`)
}

func TestFromCSCValidatesMetadata(t *testing.T) {
	_, err := FromCSC(&CSCConfig{
		Indptr:         []int64{0, 1},
		Indices:        []int64{0},
		TypePerEdge:    []int64{3},
		NodeTypeOffset: []int64{0, 1},
		Metadata: &Metadata{
			NodeTypes: map[string]int64{"paper": 0},
			EdgeTypes: map[string]int64{"paper:cites:venue": 0},
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown node type \"venue\"")
	require.Contains(t, err.Error(), "type_per_edge[0]=3")
}

func TestGraphAccessors(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	require.True(t, g.IsHomogeneous())
	require.EqualValues(t, 5, g.NumNodes())
	require.EqualValues(t, 9, g.NumEdges())
	require.EqualValues(t, 3, g.InDegree(0))
	require.EqualValues(t, 0, g.InDegree(4))
	require.Equal(t, map[int64]bool{2: true, 3: true, 4: true}, inNeighbors(g, 1))
	pop, err := g.EdgeTypePopulation(sifgraph.DefaultEdgeType)
	require.NoError(t, err)
	require.EqualValues(t, 9, pop)
}

func TestSampleAllNeighbors(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	rng := rand.New(rand.NewPCG(1, 1))
	sub, err := g.SampleNeighbors(rng, &SampleRequest{
		Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {0, 1}},
		Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: AllNeighbors},
	})
	require.NoError(t, err)
	pairs := sub.Pairs[sifgraph.DefaultEdgeType]
	require.Equal(t, []int64{2, 3, 4, 2, 3, 4}, pairs.Src)
	require.Equal(t, []int64{0, 0, 0, 1, 1, 1}, pairs.Dst)
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5}, sub.EdgeIDs[sifgraph.DefaultEdgeType])
	require.Equal(t, []int64{0, 3, 6}, sub.SeedOffsets[sifgraph.DefaultEdgeType])
}

func TestSampleRepeatedSeedsSeparately(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	rng := rand.New(rand.NewPCG(2, 9))
	sub, err := g.SampleNeighbors(rng, &SampleRequest{
		Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {3, 4, 3}},
		Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 2},
		Replace: true,
	})
	require.NoError(t, err)
	// node 4 has no in-edges
	require.Equal(t, []int64{0, 2, 2, 4}, sub.SeedOffsets[sifgraph.DefaultEdgeType])
	require.Equal(t, []int64{3, 3, 3, 3}, sub.Pairs[sifgraph.DefaultEdgeType].Dst)
}

func TestSampleWithoutReplacement(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	rng := rand.New(rand.NewPCG(7, 3))
	for trial := 0; trial < 50; trial++ {
		sub, err := g.SampleNeighbors(rng, &SampleRequest{
			Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {0, 1, 3, 4}},
			Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 2},
		})
		require.NoError(t, err)
		pairs := sub.Pairs[sifgraph.DefaultEdgeType]
		picked := make(map[int64][]int64)
		for i := range pairs.Src {
			picked[pairs.Dst[i]] = append(picked[pairs.Dst[i]], pairs.Src[i])
		}
		for _, seed := range []int64{0, 1, 3, 4} {
			neighbors := inNeighbors(g, seed)
			expected := len(neighbors)
			if expected > 2 {
				expected = 2
			}
			require.Len(t, picked[seed], expected)
			seen := make(map[int64]bool)
			for _, src := range picked[seed] {
				require.True(t, neighbors[src])
				require.False(t, seen[src])
				seen[src] = true
			}
		}
	}
}

func TestSampleWithReplacement(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	rng := rand.New(rand.NewPCG(2, 9))
	sub, err := g.SampleNeighbors(rng, &SampleRequest{
		Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {3, 4}},
		Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 5},
		Replace: true,
	})
	require.NoError(t, err)
	pairs := sub.Pairs[sifgraph.DefaultEdgeType]
	// node 3 has a single in-neighbor, node 4 has none
	require.Equal(t, []int64{1, 1, 1, 1, 1}, pairs.Src)
	require.Equal(t, []int64{3, 3, 3, 3, 3}, pairs.Dst)
}

func TestSampleNeverPicksZeroProbabilityEdges(t *testing.T) {
	// edges from node 3 have zero probability
	g := fiveNodeGraph(t, map[string][]float64{"p": {1, 0, 2, 1, 0, 2, 1, 1, 1}})
	rng := rand.New(rand.NewPCG(5, 5))
	for _, replace := range []bool{false, true} {
		for trial := 0; trial < 100; trial++ {
			sub, err := g.SampleNeighbors(rng, &SampleRequest{
				Seeds:       map[string][]int64{sifgraph.DefaultNodeType: {0, 1}},
				Fanouts:     map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 2},
				Replace:     replace,
				Probability: "p",
			})
			require.NoError(t, err)
			pairs := sub.Pairs[sifgraph.DefaultEdgeType]
			require.Len(t, pairs.Src, 4)
			for _, src := range pairs.Src {
				require.NotEqual(t, int64(3), src)
			}
		}
	}
	sub, err := g.SampleNeighbors(rng, &SampleRequest{
		Seeds:       map[string][]int64{sifgraph.DefaultNodeType: {0}},
		Fanouts:     map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: AllNeighbors},
		Probability: "p",
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 4}, sub.Pairs[sifgraph.DefaultEdgeType].Src)
}

func TestSampleRejectsBadRequests(t *testing.T) {
	g := fiveNodeGraph(t, nil)
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := g.SampleNeighbors(rng, &SampleRequest{
		Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {5}},
		Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 1},
	})
	var rangeErr errors.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.EqualValues(t, 5, rangeErr.ID)

	_, err = g.SampleNeighbors(rng, &SampleRequest{
		Seeds:   map[string][]int64{sifgraph.DefaultNodeType: {0}},
		Fanouts: map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: -2},
	})
	require.Error(t, err)

	_, err = g.SampleNeighbors(rng, &SampleRequest{
		Seeds:       map[string][]int64{sifgraph.DefaultNodeType: {0}},
		Fanouts:     map[sifgraph.EdgeType]int{sifgraph.DefaultEdgeType: 1},
		Probability: "missing",
	})
	require.Error(t, err)
}

func TestHeterogeneousSampling(t *testing.T) {
	g := heteroGraph(t)
	require.False(t, g.IsHomogeneous())
	writes := sifgraph.MakeEdgeType("author", "writes", "paper")
	cites := sifgraph.MakeEdgeType("paper", "cites", "paper")

	pop, err := g.EdgeTypePopulation(writes)
	require.NoError(t, err)
	require.EqualValues(t, 3, pop)
	ntype, local := g.ToLocal(3)
	require.Equal(t, "paper", ntype)
	require.EqualValues(t, 1, local)
	global, err := g.ToGlobal("paper", 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, global)

	sub, err := g.SampleNeighbors(rand.New(rand.NewPCG(1, 1)), &SampleRequest{
		Seeds:   map[string][]int64{"paper": {0}},
		Fanouts: map[sifgraph.EdgeType]int{writes: AllNeighbors, cites: AllNeighbors},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, sub.Pairs[writes].Src)
	require.Equal(t, []int64{0, 1}, sub.EdgeIDs[writes])
	require.Equal(t, []int64{1}, sub.Pairs[cites].Src)
	require.Equal(t, []int64{0}, sub.EdgeIDs[cites])
}

func TestRandKOfN(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for _, n := range []int64{1, 5, 100, 1000} {
		for _, k := range []int64{1, 3, 30} {
			if k > n {
				continue
			}
			values := make([]int64, k)
			randKOfN(rng, values, n)
			seen := make(map[int64]bool)
			for _, v := range values {
				require.True(t, v >= 0 && v < n)
				require.False(t, seen[v])
				seen[v] = true
			}
		}
	}
}
