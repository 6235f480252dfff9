// Package itemset holds the training items of a graph learning task, such as seed nodes with
// their labels or node pairs, and splits them into ItemBatches.
package itemset

import (
	"fmt"
	"sort"

	"github.com/go-sif/sifgraph"
	"github.com/hashicorp/go-multierror"
)

// Items is a collection of items which can be split into batches. Items of an unkeyed
// collection live under the empty key.
type Items interface {
	// Len returns the total number of items
	Len() int
	// Keys returns the keys of this collection, sorted
	Keys() []string
	// Set returns the ItemSet of a key
	Set(key string) *ItemSet
	// Keyed is true for collections keyed by node or edge type
	Keyed() bool
}

// ItemSet is a collection of items stored as aligned, named columns
type ItemSet struct {
	columns sifgraph.ItemColumns
	names   []string
	length  int
}

// New creates an ItemSet from named columns, which must all have the same length
func New(columns map[string][]int64) (*ItemSet, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("an item set requires at least one column")
	}
	s := &ItemSet{columns: make(sifgraph.ItemColumns, len(columns)), length: -1}
	for _, name := range sifgraph.SortedNodeTypes(columns) {
		col := columns[name]
		if s.length >= 0 && len(col) != s.length {
			return nil, fmt.Errorf("column %q has %d items, but column %q has %d", name, len(col), s.names[0], s.length)
		}
		s.length = len(col)
		s.names = append(s.names, name)
		s.columns[name] = col
	}
	return s, nil
}

// NewSeedNodes creates an ItemSet of seed nodes with optional labels
func NewSeedNodes(seeds []int64, labels []int64) (*ItemSet, error) {
	columns := map[string][]int64{sifgraph.ColumnSeedNodes: seeds}
	if labels != nil {
		columns[sifgraph.ColumnLabels] = labels
	}
	return New(columns)
}

// NewNodePairs creates an ItemSet of (src, dst) node pairs with optional labels
func NewNodePairs(src, dst []int64, labels []int64) (*ItemSet, error) {
	columns := map[string][]int64{sifgraph.ColumnSrc: src, sifgraph.ColumnDst: dst}
	if labels != nil {
		columns[sifgraph.ColumnLabels] = labels
	}
	return New(columns)
}

// Len returns the number of items
func (s *ItemSet) Len() int {
	return s.length
}

// Names returns the names of this ItemSet's columns, sorted
func (s *ItemSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Column returns a column by name, or nil
func (s *ItemSet) Column(name string) []int64 {
	return s.columns[name]
}

// Keys returns the single empty key of an unkeyed ItemSet
func (s *ItemSet) Keys() []string {
	return []string{""}
}

// Set returns this ItemSet for the empty key
func (s *ItemSet) Set(key string) *ItemSet {
	if key != "" {
		return nil
	}
	return s
}

// Keyed returns false
func (s *ItemSet) Keyed() bool {
	return false
}

// take gathers the items at positions idx
func (s *ItemSet) take(idx []int64) sifgraph.ItemColumns {
	out := make(sifgraph.ItemColumns, len(s.columns))
	for name, col := range s.columns {
		values := make([]int64, len(idx))
		for i, j := range idx {
			values[i] = col[j]
		}
		out[name] = values
	}
	return out
}

// ItemSetDict is a collection of ItemSets keyed by node type, for seed nodes, or by edge type,
// for node pairs
type ItemSetDict struct {
	keys []string
	sets map[string]*ItemSet
}

// NewDict creates an ItemSetDict. Every ItemSet must have the same columns.
func NewDict(sets map[string]*ItemSet) (*ItemSetDict, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("an item set dictionary requires at least one key")
	}
	var errs *multierror.Error
	keys := make([]string, 0, len(sets))
	for key := range sets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	names := fmt.Sprint(sets[keys[0]].Names())
	for _, key := range keys {
		if key == "" {
			errs = multierror.Append(errs, fmt.Errorf("item set dictionary keys must not be empty"))
			continue
		}
		if other := fmt.Sprint(sets[key].Names()); other != names {
			errs = multierror.Append(errs, fmt.Errorf("item set %q has columns %s, expected %s", key, other, names))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &ItemSetDict{keys: keys, sets: sets}, nil
}

// Len returns the number of items across all keys
func (d *ItemSetDict) Len() int {
	n := 0
	for _, s := range d.sets {
		n += s.Len()
	}
	return n
}

// Keys returns the keys of this ItemSetDict, sorted
func (d *ItemSetDict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Set returns the ItemSet of a key, or nil
func (d *ItemSetDict) Set(key string) *ItemSet {
	return d.sets[key]
}

// Keyed returns true
func (d *ItemSetDict) Keyed() bool {
	return true
}
