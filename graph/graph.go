// Package graph provides CSCSamplingGraph, an immutable compressed-sparse-column graph supporting
// concurrent neighbor sampling over homogeneous and heterogeneous graphs.
package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-sif/sifgraph"
	"github.com/hashicorp/go-multierror"
)

// Metadata names the node and edge types of a heterogeneous graph. Type ids must be contiguous
// from zero, and edge type names must be of the form "src:relation:dst".
type Metadata struct {
	NodeTypes map[string]int64 `yaml:"node_types"`
	EdgeTypes map[string]int64 `yaml:"edge_types"`
}

// CSCConfig holds the arrays a CSCSamplingGraph is constructed from
type CSCConfig struct {
	Indptr  []int64 // [REQUIRED] in-edge offsets of every node, length num_nodes+1
	Indices []int64 // [REQUIRED] source node of every edge
	// TypePerEdge and NodeTypeOffset are required for heterogeneous graphs
	TypePerEdge    []int64
	NodeTypeOffset []int64
	Metadata       *Metadata
	// EdgeAttributes are named per-edge values, e.g. sampling probabilities
	EdgeAttributes map[string][]float64
}

// CSCSamplingGraph is an immutable graph in CSC form. Derived indexes are built at construction,
// so a graph may be shared read-only between any number of sampling workers.
type CSCSamplingGraph struct {
	indptr         []int64
	indices        []int64
	typePerEdge    []int64
	nodeTypeOffset []int64
	edgeAttributes map[string][]float64
	homogeneous    bool
	nodeTypeIDs    map[string]int64
	nodeTypeNames  []string
	edgeTypeIDs    map[sifgraph.EdgeType]int64
	edgeTypes      []sifgraph.EdgeType
	// sortedEdges orders the in-edges of each node by edge type (nil when there is a single edge type)
	sortedEdges []int64
	// edgeLocalIDs maps each edge to its id among edges of its type (nil for homogeneous graphs)
	edgeLocalIDs   []int64
	edgePopulation []int64
}

// FromCSC validates conf and constructs a CSCSamplingGraph. Every violated constraint is reported.
func FromCSC(conf *CSCConfig) (*CSCSamplingGraph, error) {
	if err := validate(conf); err != nil {
		return nil, err
	}
	g := &CSCSamplingGraph{
		indptr:         conf.Indptr,
		indices:        conf.Indices,
		typePerEdge:    conf.TypePerEdge,
		nodeTypeOffset: conf.NodeTypeOffset,
		edgeAttributes: conf.EdgeAttributes,
		nodeTypeIDs:    make(map[string]int64),
		edgeTypeIDs:    make(map[sifgraph.EdgeType]int64),
	}
	numNodes := int64(len(conf.Indptr) - 1)
	if conf.Metadata == nil {
		g.homogeneous = true
		g.nodeTypeIDs[sifgraph.DefaultNodeType] = 0
		g.nodeTypeNames = []string{sifgraph.DefaultNodeType}
		g.edgeTypeIDs[sifgraph.DefaultEdgeType] = 0
		g.edgeTypes = []sifgraph.EdgeType{sifgraph.DefaultEdgeType}
		g.nodeTypeOffset = []int64{0, numNodes}
		g.edgePopulation = []int64{int64(len(conf.Indices))}
		return g, nil
	}
	g.nodeTypeNames = make([]string, len(conf.Metadata.NodeTypes))
	for name, id := range conf.Metadata.NodeTypes {
		g.nodeTypeIDs[name] = id
		g.nodeTypeNames[id] = name
	}
	g.edgeTypes = make([]sifgraph.EdgeType, len(conf.Metadata.EdgeTypes))
	for name, id := range conf.Metadata.EdgeTypes {
		g.edgeTypeIDs[sifgraph.EdgeType(name)] = id
		g.edgeTypes[id] = sifgraph.EdgeType(name)
	}
	g.buildTypeIndexes()
	return g, nil
}

func validate(conf *CSCConfig) error {
	var errs *multierror.Error
	if len(conf.Indptr) == 0 {
		return fmt.Errorf("indptr must have at least one entry")
	}
	numNodes := int64(len(conf.Indptr) - 1)
	numEdges := int64(len(conf.Indices))
	if conf.Indptr[0] != 0 {
		errs = multierror.Append(errs, fmt.Errorf("indptr[0] must be 0, got %d", conf.Indptr[0]))
	}
	for i := 1; i < len(conf.Indptr); i++ {
		if conf.Indptr[i] < conf.Indptr[i-1] {
			errs = multierror.Append(errs, fmt.Errorf("indptr must be non-decreasing, but indptr[%d]=%d < indptr[%d]=%d", i, conf.Indptr[i], i-1, conf.Indptr[i-1]))
			break
		}
	}
	if last := conf.Indptr[numNodes]; last != numEdges {
		errs = multierror.Append(errs, fmt.Errorf("indptr[-1] must equal the number of edges %d, got %d", numEdges, last))
	}
	for e, src := range conf.Indices {
		if src < 0 || src >= numNodes {
			errs = multierror.Append(errs, fmt.Errorf("indices[%d]=%d is not a node id in [0, %d)", e, src, numNodes))
			break
		}
	}
	for _, name := range sortedAttributeNames(conf.EdgeAttributes) {
		attr := conf.EdgeAttributes[name]
		if int64(len(attr)) != numEdges {
			errs = multierror.Append(errs, fmt.Errorf("edge attribute %q has %d values for %d edges", name, len(attr), numEdges))
		}
		for e, p := range attr {
			if !validProbability(p) {
				errs = multierror.Append(errs, fmt.Errorf("edge attribute %q has invalid sampling probability %v at edge %d", name, p, e))
				break
			}
		}
	}
	if conf.Metadata == nil {
		if conf.TypePerEdge != nil || conf.NodeTypeOffset != nil {
			errs = multierror.Append(errs, fmt.Errorf("type_per_edge and node_type_offset require metadata"))
		}
		return errs.ErrorOrNil()
	}
	if err := validateTypeIDs("node", conf.Metadata.NodeTypes); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := validateTypeIDs("edge", conf.Metadata.EdgeTypes); err != nil {
		errs = multierror.Append(errs, err)
	}
	for name := range conf.Metadata.EdgeTypes {
		src, _, dst, err := sifgraph.EdgeType(name).Split()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, ntype := range []string{src, dst} {
			if _, ok := conf.Metadata.NodeTypes[ntype]; !ok {
				errs = multierror.Append(errs, fmt.Errorf("edge type %q references unknown node type %q", name, ntype))
			}
		}
	}
	numNodeTypes := len(conf.Metadata.NodeTypes)
	if len(conf.NodeTypeOffset) != numNodeTypes+1 {
		errs = multierror.Append(errs, fmt.Errorf("node_type_offset must have %d entries, got %d", numNodeTypes+1, len(conf.NodeTypeOffset)))
	} else {
		if conf.NodeTypeOffset[0] != 0 || conf.NodeTypeOffset[numNodeTypes] != numNodes {
			errs = multierror.Append(errs, fmt.Errorf("node_type_offset must span [0, %d]", numNodes))
		}
		for i := 1; i < len(conf.NodeTypeOffset); i++ {
			if conf.NodeTypeOffset[i] < conf.NodeTypeOffset[i-1] {
				errs = multierror.Append(errs, fmt.Errorf("node_type_offset must be non-decreasing"))
				break
			}
		}
	}
	if int64(len(conf.TypePerEdge)) != numEdges {
		errs = multierror.Append(errs, fmt.Errorf("type_per_edge must have %d entries, got %d", numEdges, len(conf.TypePerEdge)))
	} else {
		numEdgeTypes := int64(len(conf.Metadata.EdgeTypes))
		for e, t := range conf.TypePerEdge {
			if t < 0 || t >= numEdgeTypes {
				errs = multierror.Append(errs, fmt.Errorf("type_per_edge[%d]=%d is not an edge type id", e, t))
				break
			}
		}
	}
	return errs.ErrorOrNil()
}

func validateTypeIDs(kind string, ids map[string]int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("metadata must name at least one %s type", kind)
	}
	seen := make([]bool, len(ids))
	for name, id := range ids {
		if id < 0 || id >= int64(len(ids)) || seen[id] {
			return fmt.Errorf("%s type ids must be contiguous from 0, but %q has id %d", kind, name, id)
		}
		seen[id] = true
	}
	return nil
}

func (g *CSCSamplingGraph) buildTypeIndexes() {
	numEdges := len(g.indices)
	g.edgePopulation = make([]int64, len(g.edgeTypes))
	g.edgeLocalIDs = make([]int64, numEdges)
	for e, t := range g.typePerEdge {
		g.edgeLocalIDs[e] = g.edgePopulation[t]
		g.edgePopulation[t]++
	}
	if len(g.edgeTypes) == 1 {
		return
	}
	g.sortedEdges = make([]int64, numEdges)
	for e := range g.sortedEdges {
		g.sortedEdges[e] = int64(e)
	}
	for v := 0; v+1 < len(g.indptr); v++ {
		segment := g.sortedEdges[g.indptr[v]:g.indptr[v+1]]
		sort.SliceStable(segment, func(i, j int) bool {
			return g.typePerEdge[segment[i]] < g.typePerEdge[segment[j]]
		})
	}
}

// NumNodes returns the number of nodes across all types
func (g *CSCSamplingGraph) NumNodes() int64 {
	return int64(len(g.indptr) - 1)
}

// NumEdges returns the number of edges across all types
func (g *CSCSamplingGraph) NumEdges() int64 {
	return int64(len(g.indices))
}

// IsHomogeneous returns true for graphs without type metadata
func (g *CSCSamplingGraph) IsHomogeneous() bool {
	return g.homogeneous
}

// InDegree returns the number of in-edges of global node v, across all edge types
func (g *CSCSamplingGraph) InDegree(v int64) int64 {
	return g.indptr[v+1] - g.indptr[v]
}

// InEdges returns the source nodes and edge ids of the in-edges of global node v
func (g *CSCSamplingGraph) InEdges(v int64) (srcs []int64, edgeIDs []int64) {
	lo, hi := g.indptr[v], g.indptr[v+1]
	srcs = append([]int64(nil), g.indices[lo:hi]...)
	edgeIDs = make([]int64, 0, hi-lo)
	for e := lo; e < hi; e++ {
		edgeIDs = append(edgeIDs, e)
	}
	return srcs, edgeIDs
}

// Metadata returns the type metadata of a heterogeneous graph, or nil for a homogeneous one
func (g *CSCSamplingGraph) Metadata() *Metadata {
	if g.homogeneous {
		return nil
	}
	m := &Metadata{NodeTypes: make(map[string]int64), EdgeTypes: make(map[string]int64)}
	for name, id := range g.nodeTypeIDs {
		m.NodeTypes[name] = id
	}
	for etype, id := range g.edgeTypeIDs {
		m.EdgeTypes[string(etype)] = id
	}
	return m
}

// NodeTypes returns node type names ordered by type id
func (g *CSCSamplingGraph) NodeTypes() []string {
	return append([]string(nil), g.nodeTypeNames...)
}

// EdgeTypes returns edge types ordered by type id
func (g *CSCSamplingGraph) EdgeTypes() []sifgraph.EdgeType {
	return append([]sifgraph.EdgeType(nil), g.edgeTypes...)
}

// NodeTypeOffset returns the first global id of every node type, plus the node count
func (g *CSCSamplingGraph) NodeTypeOffset() []int64 {
	return append([]int64(nil), g.nodeTypeOffset...)
}

// EdgeAttribute returns a named per-edge attribute, or nil if absent
func (g *CSCSamplingGraph) EdgeAttribute(name string) []float64 {
	return g.edgeAttributes[name]
}

// NodeTypePopulation returns the number of nodes of a type
func (g *CSCSamplingGraph) NodeTypePopulation(ntype string) (int64, error) {
	id, ok := g.nodeTypeIDs[ntype]
	if !ok {
		return 0, fmt.Errorf("unknown node type %q", ntype)
	}
	return g.nodeTypeOffset[id+1] - g.nodeTypeOffset[id], nil
}

// EdgeTypePopulation returns the number of edges of a type
func (g *CSCSamplingGraph) EdgeTypePopulation(etype sifgraph.EdgeType) (int64, error) {
	id, ok := g.edgeTypeIDs[etype]
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q", etype)
	}
	return g.edgePopulation[id], nil
}

// ToGlobal converts a type-local node id into a global node id
func (g *CSCSamplingGraph) ToGlobal(ntype string, local int64) (int64, error) {
	id, ok := g.nodeTypeIDs[ntype]
	if !ok {
		return 0, fmt.Errorf("unknown node type %q", ntype)
	}
	offset := g.nodeTypeOffset[id]
	if local < 0 || offset+local >= g.nodeTypeOffset[id+1] {
		return 0, fmt.Errorf("node %d is out of range for node type %q", local, ntype)
	}
	return offset + local, nil
}

// ToLocal converts a global node id into its node type and type-local id
func (g *CSCSamplingGraph) ToLocal(global int64) (ntype string, local int64) {
	t := sort.Search(len(g.nodeTypeNames), func(i int) bool {
		return g.nodeTypeOffset[i+1] > global
	})
	if t == len(g.nodeTypeNames) {
		return "", -1
	}
	return g.nodeTypeNames[t], global - g.nodeTypeOffset[t]
}

func (g *CSCSamplingGraph) edgeAt(pos int64) int64 {
	if g.sortedEdges == nil {
		return pos
	}
	return g.sortedEdges[pos]
}

func (g *CSCSamplingGraph) edgeType(e int64) int64 {
	if g.typePerEdge == nil {
		return 0
	}
	return g.typePerEdge[e]
}

func (g *CSCSamplingGraph) localEdgeID(e int64) int64 {
	if g.edgeLocalIDs == nil {
		return e
	}
	return g.edgeLocalIDs[e]
}

// typeSegment returns the positions [lo, hi) of node v's in-edges of type t, in sorted-edge space
func (g *CSCSamplingGraph) typeSegment(v int64, t int64) (int64, int64) {
	lo, hi := g.indptr[v], g.indptr[v+1]
	if len(g.edgeTypes) == 1 {
		return lo, hi
	}
	n := int(hi - lo)
	start := lo + int64(sort.Search(n, func(i int) bool { return g.edgeType(g.edgeAt(lo+int64(i))) >= t }))
	end := lo + int64(sort.Search(n, func(i int) bool { return g.edgeType(g.edgeAt(lo+int64(i))) > t }))
	return start, end
}

func sortedAttributeNames(attrs map[string][]float64) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validProbability(p float64) bool {
	return p >= 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
