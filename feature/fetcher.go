package feature

import (
	"fmt"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/tensor"
	"golang.org/x/sync/errgroup"
)

// FetcherOptions name the features a Fetcher gathers for every MiniBatch
type FetcherOptions struct {
	// NodeFeatures lists feature names per node type. Homogeneous graphs may use the empty type.
	NodeFeatures map[string][]string
	// EdgeFeatures lists feature names per edge type. Homogeneous graphs may use the empty type.
	EdgeFeatures map[sifgraph.EdgeType][]string
	// LabelFeature names a node feature to read labels of the seeds from, for batches without labels
	LabelFeature string
}

// Fetcher is a Stage which gathers the feature rows of a sampled MiniBatch
type Fetcher struct {
	store        *Store
	nodeFeatures map[string][]string
	edgeFeatures map[sifgraph.EdgeType][]string
	labelFeature string
}

// NewFetcher creates a Fetcher, checking that every requested feature exists in store
func NewFetcher(store *Store, opts *FetcherOptions) (*Fetcher, error) {
	f := &Fetcher{
		store:        store,
		nodeFeatures: make(map[string][]string),
		edgeFeatures: make(map[sifgraph.EdgeType][]string),
		labelFeature: opts.LabelFeature,
	}
	for ntype, names := range opts.NodeFeatures {
		for _, name := range names {
			key := NodeKey(ntype, name)
			if _, err := store.Get(key); err != nil {
				return nil, err
			}
			f.nodeFeatures[key.Type] = append(f.nodeFeatures[key.Type], name)
		}
	}
	for etype, names := range opts.EdgeFeatures {
		for _, name := range names {
			key := EdgeKey(etype, name)
			if _, err := store.Get(key); err != nil {
				return nil, err
			}
			f.edgeFeatures[sifgraph.EdgeType(key.Type)] = append(f.edgeFeatures[sifgraph.EdgeType(key.Type)], name)
		}
	}
	return f, nil
}

// Name returns the name of this Stage
func (f *Fetcher) Name() string {
	return "fetch_features"
}

type fetchJob struct {
	key    Key
	ids    []int64
	result tensor.Tensor
	store  func(t tensor.Tensor)
}

// Process reads node features of the InputNodes, edge features of every Block and, optionally,
// labels of the Seeds. Independent reads run concurrently.
func (f *Fetcher) Process(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
	var jobs []*fetchJob
	if mb.NodeFeatures == nil {
		mb.NodeFeatures = make(map[sifgraph.FeatureKey]tensor.Tensor)
	}
	if mb.Labels == nil {
		mb.Labels = make(map[string]tensor.Tensor)
	}
	inputNodes := mb.InputNodes
	if inputNodes == nil {
		inputNodes = mb.Seeds
	}
	if inputNodes != nil {
		for ntype, ids := range sifgraph.Typed(inputNodes) {
			for _, name := range f.nodeFeatures[ntype] {
				fk := sifgraph.FeatureKey{Type: ntype, Name: name}
				jobs = append(jobs, &fetchJob{
					key:   NodeKey(ntype, name),
					ids:   ids,
					store: func(t tensor.Tensor) { mb.NodeFeatures[fk] = t },
				})
			}
		}
	}
	if len(f.edgeFeatures) > 0 {
		mb.EdgeFeatures = make([]map[sifgraph.FeatureKey]tensor.Tensor, len(mb.Blocks))
		for i, block := range mb.Blocks {
			features := make(map[sifgraph.FeatureKey]tensor.Tensor)
			mb.EdgeFeatures[i] = features
			for etype, ids := range block.EdgeIDs {
				for _, name := range f.edgeFeatures[etype] {
					fk := sifgraph.FeatureKey{Type: string(etype), Name: name}
					jobs = append(jobs, &fetchJob{
						key:   EdgeKey(etype, name),
						ids:   ids,
						store: func(t tensor.Tensor) { features[fk] = t },
					})
				}
			}
		}
	}
	if f.labelFeature != "" && len(mb.Labels) == 0 && mb.Seeds != nil {
		for ntype, ids := range sifgraph.Typed(mb.Seeds) {
			ntype := ntype
			jobs = append(jobs, &fetchJob{
				key:   NodeKey(ntype, f.labelFeature),
				ids:   ids,
				store: func(t tensor.Tensor) { mb.Labels[ntype] = t },
			})
		}
	}

	g, gctx := errgroup.WithContext(sctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			t, err := f.store.Read(gctx, job.key, job.ids)
			if err != nil {
				return fmt.Errorf("unable to fetch feature %s: %w", job.key, err)
			}
			job.result = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		job.store(job.result)
	}
	return mb, nil
}
