// Package compaction rewrites global node ids as indices into deduplicated, per-type id sets.
// Every operation is pure, and the unique sets preserve first-appearance order, so that
// unique[compacted[i]] == original[i] for every input position i.
package compaction

import (
	"fmt"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
)

// idMap assigns dense indices to ids in order of first insertion
type idMap struct {
	index  map[int64]int64
	unique []int64
}

func newIDMap(capacity int) *idMap {
	return &idMap{index: make(map[int64]int64, capacity), unique: make([]int64, 0, capacity)}
}

func (m *idMap) insert(id int64) int64 {
	if idx, ok := m.index[id]; ok {
		return idx
	}
	idx := int64(len(m.unique))
	m.index[id] = idx
	m.unique = append(m.unique, id)
	return idx
}

func (m *idMap) lookup(id int64) (int64, bool) {
	idx, ok := m.index[id]
	return idx, ok
}

// UniqueAndCompact deduplicates the ids of all chunks, returning the unique ids and each chunk
// rewritten as indices into them
func UniqueAndCompact(chunks [][]int64) (unique []int64, compacted [][]int64) {
	u, c := UniqueAndCompactHetero(map[string][][]int64{sifgraph.DefaultNodeType: chunks})
	return u[sifgraph.DefaultNodeType], c[sifgraph.DefaultNodeType]
}

// UniqueAndCompactHetero performs UniqueAndCompact independently for each node type
func UniqueAndCompactHetero(chunks map[string][][]int64) (unique map[string][]int64, compacted map[string][][]int64) {
	unique = make(map[string][]int64, len(chunks))
	compacted = make(map[string][][]int64, len(chunks))
	for _, ntype := range sifgraph.SortedNodeTypes(chunks) {
		typeChunks := chunks[ntype]
		total := 0
		for _, chunk := range typeChunks {
			total += len(chunk)
		}
		m := newIDMap(total)
		out := make([][]int64, len(typeChunks))
		for i, chunk := range typeChunks {
			out[i] = make([]int64, len(chunk))
			for j, id := range chunk {
				out[i][j] = m.insert(id)
			}
		}
		unique[ntype] = m.unique
		compacted[ntype] = out
	}
	return unique, compacted
}

// CompactIDs deduplicates chunks of ids which must all be the same IDs variant, returning
// results of that variant
func CompactIDs(chunks []sifgraph.IDs) (unique sifgraph.IDs, compacted []sifgraph.IDs, err error) {
	if len(chunks) == 0 {
		return sifgraph.Homogeneous{}, nil, nil
	}
	homogeneous := sifgraph.IsHomogeneous(chunks[0])
	typed := make(map[string][][]int64)
	for i, chunk := range chunks {
		if sifgraph.IsHomogeneous(chunk) != homogeneous {
			return nil, nil, fmt.Errorf("chunk %d mixes homogeneous and heterogeneous ids", i)
		}
		for ntype, ids := range sifgraph.Typed(chunk) {
			// pad types missing from this chunk, so chunk positions stay aligned
			for len(typed[ntype]) < i {
				typed[ntype] = append(typed[ntype], nil)
			}
			typed[ntype] = append(typed[ntype], ids)
		}
	}
	u, c := UniqueAndCompactHetero(typed)
	compacted = make([]sifgraph.IDs, len(chunks))
	for i := range chunks {
		perType := make(map[string][]int64)
		for ntype, typeChunks := range c {
			if i < len(typeChunks) && typeChunks[i] != nil {
				perType[ntype] = typeChunks[i]
			}
		}
		compacted[i] = sifgraph.FromTyped(perType, homogeneous)
	}
	return sifgraph.FromTyped(u, homogeneous), compacted, nil
}

// UniqueAndCompactNodePairs compacts the endpoints of (src, dst) pairs. If uniqueDst is non-nil,
// the unique set begins with the distinct ids of uniqueDst in first-appearance order and every
// dst must be one of them; a dst which is not is an OutOfRangeError, even if it also appears as
// a source. If uniqueDst is nil, sources and destinations are deduplicated together.
func UniqueAndCompactNodePairs(src, dst []int64, uniqueDst []int64) (unique []int64, compactedSrc []int64, compactedDst []int64, err error) {
	var typedDst map[string][]int64
	if uniqueDst != nil {
		typedDst = map[string][]int64{sifgraph.DefaultNodeType: uniqueDst}
	}
	pairs := map[sifgraph.EdgeType]sifgraph.NodePairs{sifgraph.DefaultEdgeType: {Src: src, Dst: dst}}
	u, c, err := UniqueAndCompactNodePairsHetero(pairs, typedDst)
	if err != nil {
		return nil, nil, nil, err
	}
	out := c[sifgraph.DefaultEdgeType]
	return u[sifgraph.DefaultNodeType], out.Src, out.Dst, nil
}

// UniqueAndCompactNodePairsHetero compacts node pairs keyed by edge type. Sources are compacted
// into the unique set of the edge type's source node type, and destinations into that of its
// destination node type.
func UniqueAndCompactNodePairsHetero(pairs map[sifgraph.EdgeType]sifgraph.NodePairs, uniqueDst map[string][]int64) (unique map[string][]int64, compacted map[sifgraph.EdgeType]sifgraph.NodePairs, err error) {
	maps := make(map[string]*idMap)
	numDst := make(map[string]int64)
	getMap := func(ntype string) *idMap {
		m, ok := maps[ntype]
		if !ok {
			m = newIDMap(0)
			maps[ntype] = m
		}
		return m
	}
	for _, ntype := range sifgraph.SortedNodeTypes(uniqueDst) {
		m := getMap(ntype)
		for _, id := range uniqueDst[ntype] {
			m.insert(id)
		}
		numDst[ntype] = int64(len(m.unique))
	}
	etypes, err := checkPairs(pairs)
	if err != nil {
		return nil, nil, err
	}
	for _, etype := range etypes {
		srcType, _, dstType, _ := etype.Split()
		getMap(srcType)
		getMap(dstType)
	}

	compacted = make(map[sifgraph.EdgeType]sifgraph.NodePairs, len(pairs))
	for _, etype := range etypes {
		p := pairs[etype]
		srcType, _, dstType, _ := etype.Split()
		srcMap, dstMap := maps[srcType], maps[dstType]
		out := sifgraph.NodePairs{Src: make([]int64, len(p.Src)), Dst: make([]int64, len(p.Dst))}
		for i, id := range p.Src {
			out.Src[i] = srcMap.insert(id)
		}
		for i, id := range p.Dst {
			if uniqueDst == nil {
				out.Dst[i] = dstMap.insert(id)
				continue
			}
			idx, ok := dstMap.lookup(id)
			if !ok || idx >= numDst[dstType] {
				return nil, nil, errors.OutOfRangeError{What: fmt.Sprintf("destination nodes of %s", dstType), ID: id, Bound: -1}
			}
			out.Dst[i] = idx
		}
		compacted[etype] = out
	}

	unique = make(map[string][]int64, len(maps))
	for ntype, m := range maps {
		unique[ntype] = m.unique
	}
	return unique, compacted, nil
}

// CompactNodePairs compacts node pairs without deduplication. Every entry of dstNodes keeps its
// own slot, even when an id repeats, and the Dst of each pair is a position in dstNodes of the
// edge type's destination node type. The unique set of each node type is dstNodes followed by
// every source occurrence in edge type order, so sources are never merged with each other or
// with destinations.
func CompactNodePairs(pairs map[sifgraph.EdgeType]sifgraph.NodePairs, dstNodes map[string][]int64) (unique map[string][]int64, compacted map[sifgraph.EdgeType]sifgraph.NodePairs, err error) {
	etypes, err := checkPairs(pairs)
	if err != nil {
		return nil, nil, err
	}
	unique = make(map[string][]int64, len(dstNodes))
	for ntype, ids := range dstNodes {
		unique[ntype] = append(make([]int64, 0, len(ids)), ids...)
	}
	compacted = make(map[sifgraph.EdgeType]sifgraph.NodePairs, len(pairs))
	for _, etype := range etypes {
		p := pairs[etype]
		srcType, _, dstType, _ := etype.Split()
		for _, ntype := range []string{srcType, dstType} {
			if _, ok := unique[ntype]; !ok {
				unique[ntype] = []int64{}
			}
		}
		bound := int64(len(dstNodes[dstType]))
		out := sifgraph.NodePairs{Src: make([]int64, len(p.Src)), Dst: make([]int64, len(p.Dst))}
		for i, pos := range p.Dst {
			if pos < 0 || pos >= bound {
				return nil, nil, errors.OutOfRangeError{What: fmt.Sprintf("destination positions of %s", dstType), ID: pos, Bound: bound}
			}
			out.Dst[i] = pos
		}
		for i, id := range p.Src {
			out.Src[i] = int64(len(unique[srcType]))
			unique[srcType] = append(unique[srcType], id)
		}
		compacted[etype] = out
	}
	return unique, compacted, nil
}

// checkPairs validates pair lengths and edge type names, returning the edge types in order
func checkPairs(pairs map[sifgraph.EdgeType]sifgraph.NodePairs) ([]sifgraph.EdgeType, error) {
	etypes := sifgraph.SortedEdgeTypes(pairs)
	for _, etype := range etypes {
		p := pairs[etype]
		if len(p.Src) != len(p.Dst) {
			return nil, errors.ShapeError{
				What:     fmt.Sprintf("node pairs of %s", etype),
				Expected: fmt.Sprintf("%d destinations", len(p.Src)),
				Actual:   fmt.Sprintf("%d destinations", len(p.Dst)),
			}
		}
		if _, _, _, err := etype.Split(); err != nil {
			return nil, err
		}
	}
	return etypes, nil
}
