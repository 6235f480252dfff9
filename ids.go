package sifgraph

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultNodeType is the node type name used internally for homogeneous graphs
	DefaultNodeType = "_N"
	// DefaultEdgeType is the edge type used internally for homogeneous graphs
	DefaultEdgeType EdgeType = "_N:_E:_N"
)

// IDs is a set of node ids which is either Homogeneous or Heterogeneous. Components dispatch on
// the variant once, at the pipeline boundary, via Typed and FromTyped.
type IDs interface {
	// Len returns the total number of ids across all types
	Len() int
	isIDs()
}

// Homogeneous ids belong to a graph with a single node type
type Homogeneous []int64

// Heterogeneous ids are type-local node ids keyed by node type name
type Heterogeneous map[string][]int64

// Len returns the number of ids
func (h Homogeneous) Len() int {
	return len(h)
}

func (Homogeneous) isIDs() {}

// Len returns the number of ids across all types
func (h Heterogeneous) Len() int {
	n := 0
	for _, ids := range h {
		n += len(ids)
	}
	return n
}

func (Heterogeneous) isIDs() {}

// Types returns the node types of these ids, sorted
func (h Heterogeneous) Types() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Typed views ids as a mapping of node type to ids. Homogeneous ids are keyed by DefaultNodeType.
func Typed(ids IDs) map[string][]int64 {
	switch v := ids.(type) {
	case Homogeneous:
		return map[string][]int64{DefaultNodeType: v}
	case Heterogeneous:
		return v
	default:
		return map[string][]int64{}
	}
}

// FromTyped converts a mapping of node type to ids back into the requested variant
func FromTyped(typed map[string][]int64, homogeneous bool) IDs {
	if homogeneous {
		return Homogeneous(typed[DefaultNodeType])
	}
	return Heterogeneous(typed)
}

// IsHomogeneous returns true for the Homogeneous variant
func IsHomogeneous(ids IDs) bool {
	_, ok := ids.(Homogeneous)
	return ok
}

// EdgeType names a relation as "src:relation:dst"
type EdgeType string

// MakeEdgeType joins the parts of an EdgeType
func MakeEdgeType(src, relation, dst string) EdgeType {
	return EdgeType(src + ":" + relation + ":" + dst)
}

// Split returns the source node type, relation name and destination node type
func (e EdgeType) Split() (src string, relation string, dst string, err error) {
	parts := strings.Split(string(e), ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("edge type %q is not of the form src:relation:dst", string(e))
	}
	return parts[0], parts[1], parts[2], nil
}

// SrcType returns the source node type, or "" if the EdgeType is malformed
func (e EdgeType) SrcType() string {
	src, _, _, _ := e.Split()
	return src
}

// DstType returns the destination node type, or "" if the EdgeType is malformed
func (e EdgeType) DstType() string {
	_, _, dst, _ := e.Split()
	return dst
}

// SortedEdgeTypes returns the keys of m in ascending order
func SortedEdgeTypes[V any](m map[EdgeType]V) []EdgeType {
	keys := make([]EdgeType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SortedNodeTypes returns the keys of m in ascending order
func SortedNodeTypes[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
