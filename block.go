package sifgraph

// CSC is a compacted compressed-sparse-column edge list. Indptr has one entry per destination
// node plus one, and Indices holds compacted source indices.
type CSC struct {
	Indptr  []int64
	Indices []int64
}

// NumEdges returns the number of edges in this CSC
func (c *CSC) NumEdges() int {
	return len(c.Indices)
}

// Block is one sampled layer: a bipartite subgraph from source nodes to destination nodes, with
// compacted endpoints and the mapping back to global ids. For every node type, SrcNodes begins
// with DstNodes, so destination nodes are also the first source nodes.
type Block struct {
	// SrcNodes are the original (row) node ids of the source side, per node type
	SrcNodes map[string][]int64
	// DstNodes are the original (column) node ids of the destination side, per node type. These
	// are the seeds of the layer.
	DstNodes map[string][]int64
	// Edges holds the compacted edges of each edge type. Indices point into SrcNodes of the
	// edge type's source node type, and Indptr spans DstNodes of its destination node type.
	Edges map[EdgeType]*CSC
	// EdgeIDs are the original edge ids of each edge type, aligned with Edges[etype].Indices
	EdgeIDs map[EdgeType][]int64
	// Homogeneous is true when the block was sampled from a graph with a single node and edge type
	Homogeneous bool
}

// NodePairs returns the compacted (src, dst) endpoint lists of an edge type
func (b *Block) NodePairs(etype EdgeType) (src []int64, dst []int64) {
	csc, ok := b.Edges[etype]
	if !ok {
		return nil, nil
	}
	src = append([]int64(nil), csc.Indices...)
	dst = make([]int64, 0, len(csc.Indices))
	for v := 0; v+1 < len(csc.Indptr); v++ {
		for e := csc.Indptr[v]; e < csc.Indptr[v+1]; e++ {
			dst = append(dst, int64(v))
		}
	}
	return src, dst
}

// OriginalRowNodeIDs returns the global ids of the source side
func (b *Block) OriginalRowNodeIDs() IDs {
	return FromTyped(b.SrcNodes, b.Homogeneous)
}

// OriginalColumnNodeIDs returns the global ids of the destination side
func (b *Block) OriginalColumnNodeIDs() IDs {
	return FromTyped(b.DstNodes, b.Homogeneous)
}

// NumSrc returns the number of source nodes across all types
func (b *Block) NumSrc() int {
	return Heterogeneous(b.SrcNodes).Len()
}

// NumDst returns the number of destination nodes across all types
func (b *Block) NumDst() int {
	return Heterogeneous(b.DstNodes).Len()
}

// NumEdges returns the number of edges across all edge types
func (b *Block) NumEdges() int {
	n := 0
	for _, csc := range b.Edges {
		n += csc.NumEdges()
	}
	return n
}
