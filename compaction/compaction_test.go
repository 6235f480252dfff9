package compaction

import (
	"math/rand/v2"
	"testing"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/stretchr/testify/require"
)

func requireRoundTrip(t *testing.T, unique []int64, original, compacted []int64) {
	require.Len(t, compacted, len(original))
	for i := range original {
		require.Equal(t, original[i], unique[compacted[i]])
	}
}

func requireNoDuplicates(t *testing.T, unique []int64) {
	seen := make(map[int64]bool, len(unique))
	for _, id := range unique {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestUniqueAndCompact(t *testing.T) {
	chunks := [][]int64{{5, 3, 5}, {7, 3}, {}, {1}}
	unique, compacted := UniqueAndCompact(chunks)
	require.Equal(t, []int64{5, 3, 7, 1}, unique)
	require.Equal(t, [][]int64{{0, 1, 0}, {2, 1}, {}, {3}}, compacted)
}

func TestUniqueAndCompactRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 20; trial++ {
		chunks := make([][]int64, 1+rng.IntN(5))
		for i := range chunks {
			chunks[i] = make([]int64, rng.IntN(50))
			for j := range chunks[i] {
				chunks[i][j] = rng.Int64N(30)
			}
		}
		unique, compacted := UniqueAndCompact(chunks)
		requireNoDuplicates(t, unique)
		for i := range chunks {
			requireRoundTrip(t, unique, chunks[i], compacted[i])
		}
	}
}

func TestUniqueAndCompactHetero(t *testing.T) {
	unique, compacted := UniqueAndCompactHetero(map[string][][]int64{
		"paper":  {{1, 2}, {2, 9}},
		"author": {{4, 4}},
	})
	require.Equal(t, []int64{1, 2, 9}, unique["paper"])
	require.Equal(t, []int64{4}, unique["author"])
	require.Equal(t, [][]int64{{0, 1}, {1, 2}}, compacted["paper"])
	require.Equal(t, [][]int64{{0, 0}}, compacted["author"])
}

func TestCompactIDs(t *testing.T) {
	unique, compacted, err := CompactIDs([]sifgraph.IDs{sifgraph.Homogeneous{3, 1}, sifgraph.Homogeneous{1, 8}})
	require.NoError(t, err)
	require.Equal(t, sifgraph.Homogeneous{3, 1, 8}, unique)
	require.Equal(t, sifgraph.Homogeneous{1, 2}, compacted[1])

	_, _, err = CompactIDs([]sifgraph.IDs{sifgraph.Homogeneous{1}, sifgraph.Heterogeneous{"a": {1}}})
	require.Error(t, err)
}

func TestUniqueAndCompactNodePairsWithDestinations(t *testing.T) {
	src := []int64{2, 3, 4, 2, 3}
	dst := []int64{0, 0, 0, 1, 1}
	unique, csrc, cdst, err := UniqueAndCompactNodePairs(src, dst, []int64{0, 1})
	require.NoError(t, err)
	// destinations come first, sources follow in order of appearance
	require.Equal(t, []int64{0, 1, 2, 3, 4}, unique)
	requireRoundTrip(t, unique, src, csrc)
	requireRoundTrip(t, unique, dst, cdst)
}

func TestUniqueAndCompactNodePairsMissingDestination(t *testing.T) {
	_, _, _, err := UniqueAndCompactNodePairs([]int64{2, 3}, []int64{0, 7}, []int64{0, 1})
	var rangeErr errors.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.EqualValues(t, 7, rangeErr.ID)

	// a destination which only appears as a source is still missing
	_, _, _, err = UniqueAndCompactNodePairs([]int64{5}, []int64{5}, []int64{0})
	require.ErrorAs(t, err, &rangeErr)
	require.EqualValues(t, 5, rangeErr.ID)
}

func TestUniqueAndCompactNodePairsWithoutDestinations(t *testing.T) {
	src := []int64{9, 4}
	dst := []int64{4, 2}
	unique, csrc, cdst, err := UniqueAndCompactNodePairs(src, dst, nil)
	require.NoError(t, err)
	requireNoDuplicates(t, unique)
	require.ElementsMatch(t, []int64{9, 4, 2}, unique)
	requireRoundTrip(t, unique, src, csrc)
	requireRoundTrip(t, unique, dst, cdst)
}

func TestUniqueAndCompactNodePairsHetero(t *testing.T) {
	writes := sifgraph.MakeEdgeType("author", "writes", "paper")
	cites := sifgraph.MakeEdgeType("paper", "cites", "paper")
	pairs := map[sifgraph.EdgeType]sifgraph.NodePairs{
		writes: {Src: []int64{7, 8, 7}, Dst: []int64{0, 0, 1}},
		cites:  {Src: []int64{5, 1}, Dst: []int64{1, 0}},
	}
	unique, compacted, err := UniqueAndCompactNodePairsHetero(pairs, map[string][]int64{"paper": {0, 1}})
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8}, unique["author"])
	require.Equal(t, []int64{0, 1, 5}, unique["paper"])
	requireRoundTrip(t, unique["author"], pairs[writes].Src, compacted[writes].Src)
	requireRoundTrip(t, unique["paper"], pairs[writes].Dst, compacted[writes].Dst)
	requireRoundTrip(t, unique["paper"], pairs[cites].Src, compacted[cites].Src)
}

func TestUniqueAndCompactNodePairsRepeatedDestinations(t *testing.T) {
	// repeated destinations are merged, so source 5 lands after the single destination slot
	unique, csrc, cdst, err := UniqueAndCompactNodePairs([]int64{5, 6}, []int64{0, 0}, []int64{0, 0})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 5, 6}, unique)
	require.Equal(t, []int64{1, 2}, csrc)
	require.Equal(t, []int64{0, 0}, cdst)

	var rangeErr errors.OutOfRangeError
	_, _, _, err = UniqueAndCompactNodePairs([]int64{5}, []int64{5}, []int64{0, 0})
	require.ErrorAs(t, err, &rangeErr)
	require.EqualValues(t, 5, rangeErr.ID)
}

func TestCompactNodePairsKeepsDuplicates(t *testing.T) {
	// destination 1 appears twice and each occurrence keeps its own slot
	pairs := map[sifgraph.EdgeType]sifgraph.NodePairs{
		sifgraph.DefaultEdgeType: {Src: []int64{2, 2, 1}, Dst: []int64{0, 1, 2}},
	}
	unique, compacted, err := CompactNodePairs(pairs, map[string][]int64{sifgraph.DefaultNodeType: {0, 1, 1}})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 1, 2, 2, 1}, unique[sifgraph.DefaultNodeType])
	require.Equal(t, []int64{3, 4, 5}, compacted[sifgraph.DefaultEdgeType].Src)
	require.Equal(t, []int64{0, 1, 2}, compacted[sifgraph.DefaultEdgeType].Dst)
	requireRoundTrip(t, unique[sifgraph.DefaultNodeType], pairs[sifgraph.DefaultEdgeType].Src, compacted[sifgraph.DefaultEdgeType].Src)

	pairs[sifgraph.DefaultEdgeType] = sifgraph.NodePairs{Src: []int64{4}, Dst: []int64{3}}
	_, _, err = CompactNodePairs(pairs, map[string][]int64{sifgraph.DefaultNodeType: {0, 1, 1}})
	var rangeErr errors.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
	require.EqualValues(t, 3, rangeErr.Bound)
}
