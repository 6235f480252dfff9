package feature

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/graph"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/hashicorp/go-multierror"
)

// Key identifies a Feature within a Store
type Key struct {
	Domain sifgraph.Domain
	// Type is a node type for node features, or an edge type for edge features
	Type string
	Name string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Domain, k.Type, k.Name)
}

// normalize replaces the empty type of a homogeneous graph's features with the default type
func (k Key) normalize() Key {
	if k.Type == "" {
		if k.Domain == sifgraph.EdgeDomain {
			k.Type = string(sifgraph.DefaultEdgeType)
		} else {
			k.Type = sifgraph.DefaultNodeType
		}
	}
	return k
}

// NodeKey returns the Key of a node feature
func NodeKey(ntype string, name string) Key {
	return Key{Domain: sifgraph.NodeDomain, Type: ntype, Name: name}.normalize()
}

// EdgeKey returns the Key of an edge feature
func EdgeKey(etype sifgraph.EdgeType, name string) Key {
	return Key{Domain: sifgraph.EdgeDomain, Type: string(etype), Name: name}.normalize()
}

// Store maps Keys to Features. Features are registered before a run and read concurrently
// during it.
type Store struct {
	lock     sync.RWMutex
	features map[Key]sifgraph.Feature
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{features: make(map[Key]sifgraph.Feature)}
}

// Add registers a Feature. Registering a Key twice is an error.
func (s *Store) Add(key Key, f sifgraph.Feature) error {
	if _, err := sifgraph.ParseDomain(string(key.Domain)); err != nil {
		return err
	}
	key = key.normalize()
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.features[key]; ok {
		return fmt.Errorf("feature %s is already registered", key)
	}
	s.features[key] = f
	return nil
}

// Get returns the Feature of a Key
func (s *Store) Get(key Key) (sifgraph.Feature, error) {
	key = key.normalize()
	s.lock.RLock()
	defer s.lock.RUnlock()
	f, ok := s.features[key]
	if !ok {
		return nil, fmt.Errorf("feature %s does not exist", key)
	}
	return f, nil
}

// Read gathers rows of the Feature of a Key
func (s *Store) Read(ctx context.Context, key Key, ids []int64) (tensor.Tensor, error) {
	f, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	return f.Read(ctx, ids)
}

// Update overwrites rows of the Feature of a Key
func (s *Store) Update(ctx context.Context, key Key, ids []int64, values tensor.Tensor) error {
	f, err := s.Get(key)
	if err != nil {
		return err
	}
	return f.Update(ctx, ids, values)
}

// Keys returns every registered Key, sorted
func (s *Store) Keys() []Key {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := make([]Key, 0, len(s.features))
	for k := range s.features {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Validate checks that every Feature has one row per node or edge of its type in g
func (s *Store) Validate(g *graph.CSCSamplingGraph) error {
	var errs *multierror.Error
	for _, key := range s.Keys() {
		f, _ := s.Get(key)
		var population int64
		var err error
		if key.Domain == sifgraph.NodeDomain {
			population, err = g.NodeTypePopulation(key.Type)
		} else {
			population, err = g.EdgeTypePopulation(sifgraph.EdgeType(key.Type))
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("feature %s: %w", key, err))
			continue
		}
		if int64(f.NumRows()) != population {
			errs = multierror.Append(errs, errors.ShapeError{
				What:     "feature " + key.String(),
				Expected: fmt.Sprintf("%d rows", population),
				Actual:   fmt.Sprintf("%d rows", f.NumRows()),
			})
		}
	}
	return errs.ErrorOrNil()
}

// Close closes every Feature which holds resources, such as mappings or pinned memory
func (s *Store) Close() error {
	var errs *multierror.Error
	for _, key := range s.Keys() {
		f, _ := s.Get(key)
		if closer, ok := f.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("unable to close feature %s: %w", key, err))
			}
		}
	}
	return errs.ErrorOrNil()
}
