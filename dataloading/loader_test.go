package dataloading

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/feature"
	"github.com/go-sif/sifgraph/graph"
	"github.com/go-sif/sifgraph/itemset"
	"github.com/go-sif/sifgraph/sampling"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func seedSampler(t *testing.T, numItems int, batchSize int, shuffle bool) *itemset.MinibatchSampler {
	seeds := make([]int64, numItems)
	for i := range seeds {
		seeds[i] = int64(i)
	}
	items, err := itemset.NewSeedNodes(seeds, nil)
	require.NoError(t, err)
	s, err := itemset.NewMinibatchSampler(items, &itemset.SamplerOptions{BatchSize: batchSize, Shuffle: shuffle, Seed: 3})
	require.NoError(t, err)
	return s
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// drain reads every batch of an epoch, failing on any error
func drain(t *testing.T, it *Iterator) []*sifgraph.MiniBatch {
	var out []*sifgraph.MiniBatch
	for {
		mb, err := it.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, mb)
	}
}

// slowStage delays early batches more than later ones, so that workers finish out of order
func slowStage() sifgraph.Stage {
	return sifgraph.NewStage("slow", func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
		time.Sleep(time.Duration(10-mb.Index%10) * time.Millisecond)
		return mb, nil
	})
}

func TestLoaderPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	dl, err := New(seedSampler(t, 20, 2, false), []sifgraph.Stage{slowStage()}, &Options{NumWorkers: 4, Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 10, dl.NumBatches())

	it, err := dl.Iter(context.Background())
	require.NoError(t, err)
	batches := drain(t, it)
	require.Len(t, batches, 10)
	for i, mb := range batches {
		require.Equal(t, i, mb.Index)
		require.Equal(t, sifgraph.Homogeneous{int64(2 * i), int64(2*i + 1)}, mb.Seeds)
	}
	_, err = it.Next(context.Background())
	require.Equal(t, io.EOF, err)

	require.EqualValues(t, 10, dl.Stats().GetNumBatchesProcessed())
	require.EqualValues(t, 20, dl.Stats().GetNumItemsProcessed())
	require.Len(t, dl.Stats().GetStageRuntimes(), 1)
}

func TestLoaderUnordered(t *testing.T) {
	defer goleak.VerifyNone(t)
	dl, err := New(seedSampler(t, 20, 2, false), []sifgraph.Stage{slowStage()}, &Options{NumWorkers: 4, Unordered: true, Logger: quietLogger()})
	require.NoError(t, err)
	it, err := dl.Iter(context.Background())
	require.NoError(t, err)
	batches := drain(t, it)
	indices := make([]int, 0, len(batches))
	for _, mb := range batches {
		indices = append(indices, mb.Index)
	}
	sort.Ints(indices)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)
}

func TestLoaderBatchErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	failing := sifgraph.NewStage("failing", func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
		switch mb.Index {
		case 1:
			return nil, fmt.Errorf("cannot process batch")
		case 2:
			panic("unexpected batch")
		}
		return mb, nil
	})
	dl, err := New(seedSampler(t, 8, 2, false), []sifgraph.Stage{failing}, &Options{NumWorkers: 2, Logger: quietLogger()})
	require.NoError(t, err)
	it, err := dl.Iter(context.Background())
	require.NoError(t, err)
	defer it.Close()

	mb, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, mb.Index)

	_, err = it.Next(context.Background())
	var batchErr errors.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 1, batchErr.Index)
	require.Equal(t, "failing", batchErr.Stage)

	_, err = it.Next(context.Background())
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, 2, batchErr.Index)
	require.True(t, strings.Contains(err.Error(), "Panic"))

	mb, err = it.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, mb.Index)
	_, err = it.Next(context.Background())
	require.Equal(t, io.EOF, err)
	require.EqualValues(t, 2, dl.Stats().GetNumBatchErrors())
}

func TestLoaderCollateErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	collate := func(sctx sifgraph.StageContext, batch *sifgraph.ItemBatch) (*sifgraph.MiniBatch, error) {
		return nil, nil
	}
	dl, err := New(seedSampler(t, 2, 2, false), nil, &Options{Collate: collate, Logger: quietLogger()})
	require.NoError(t, err)
	it, err := dl.Iter(context.Background())
	require.NoError(t, err)
	defer it.Close()
	_, err = it.Next(context.Background())
	var batchErr errors.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, collateStage, batchErr.Stage)
}

func TestLoaderStall(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	blocking := sifgraph.NewStage("blocking", func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
		select {
		case <-release:
			return mb, nil
		case <-sctx.Done():
			return nil, sctx.Err()
		}
	})
	dl, err := New(seedSampler(t, 4, 2, false), []sifgraph.Stage{blocking}, &Options{QueueTimeout: 50 * time.Millisecond, Logger: quietLogger()})
	require.NoError(t, err)
	it, err := dl.Iter(context.Background())
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	var stallErr errors.StallError
	require.ErrorAs(t, err, &stallErr)
	require.Equal(t, 50*time.Millisecond, stallErr.Waited)

	close(release)
	mb, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, mb.Index)
	it.Close()
	_, err = it.Next(context.Background())
	var stateErr errors.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestLoaderWorkerInit(t *testing.T) {
	defer goleak.VerifyNone(t)
	check := sifgraph.NewStage("check", func(sctx sifgraph.StageContext, mb *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error) {
		v, ok := sctx.Get("owner")
		if !ok || v.(int) != sctx.WorkerID() {
			return nil, fmt.Errorf("worker %d was not initialized", sctx.WorkerID())
		}
		if err := sctx.(sifgraph.WorkerContext).Set("late", true); err == nil {
			return nil, fmt.Errorf("worker context accepted a value after initialization")
		}
		return mb, nil
	})
	dl, err := New(seedSampler(t, 12, 3, false), []sifgraph.Stage{check}, &Options{
		NumWorkers: 3,
		Logger:     quietLogger(),
		WorkerInit: func(wctx sifgraph.WorkerContext) error {
			if err := wctx.Set("owner", wctx.WorkerID()); err != nil {
				return err
			}
			return wctx.Set("owner", -1)
		},
	})
	require.NoError(t, err)
	_, err = dl.Iter(context.Background())
	require.Error(t, err)

	dl, err = New(seedSampler(t, 12, 3, false), []sifgraph.Stage{check}, &Options{
		NumWorkers: 3,
		Logger:     quietLogger(),
		WorkerInit: func(wctx sifgraph.WorkerContext) error {
			return wctx.Set("owner", wctx.WorkerID())
		},
	})
	require.NoError(t, err)
	it, err := dl.Iter(context.Background())
	require.NoError(t, err)
	require.Len(t, drain(t, it), 4)
}

func TestLoaderEpochs(t *testing.T) {
	defer goleak.VerifyNone(t)
	dl, err := New(seedSampler(t, 10, 5, true), nil, &Options{NumWorkers: 2, Logger: quietLogger()})
	require.NoError(t, err)

	first, err := dl.Iter(context.Background())
	require.NoError(t, err)
	_, err = dl.Iter(context.Background())
	var stateErr errors.StateError
	require.ErrorAs(t, err, &stateErr)
	epoch0 := drain(t, first)

	second, err := dl.Iter(context.Background())
	require.NoError(t, err)
	epoch1 := drain(t, second)
	require.Len(t, epoch1, 2)
	require.NotEqual(t, epoch0[0].Seeds, epoch1[0].Seeds)

	// closing early releases every goroutine
	third, err := dl.Iter(context.Background())
	require.NoError(t, err)
	third.Close()
	third.Close()
}

func TestLoaderSamplingPipeline(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, err := graph.FromCSC(&graph.CSCConfig{
		Indptr:  []int64{0, 3, 6, 8, 9, 9},
		Indices: []int64{2, 3, 4, 2, 3, 4, 0, 1, 1},
	})
	require.NoError(t, err)
	sampler, err := sampling.NewNeighborSampler(g, &sampling.Options{Fanouts: sampling.Fanouts{Layers: []int{2, 2}}})
	require.NoError(t, err)

	values := make([]float32, 0, 10)
	for i := 0; i < 5; i++ {
		values = append(values, float32(i), float32(-i))
	}
	store := feature.NewStore()
	require.NoError(t, store.Add(feature.NodeKey("", "feat"), feature.NewInMemory(tensor.MustFromFloat32(values, 5, 2))))
	fetcher, err := feature.NewFetcher(store, &feature.FetcherOptions{NodeFeatures: map[string][]string{"": {"feat"}}})
	require.NoError(t, err)

	run := func() []*sifgraph.MiniBatch {
		dl, err := New(seedSampler(t, 5, 2, false), []sifgraph.Stage{sampler, fetcher, &CopyTo{NonBlocking: true}}, &Options{Seed: 7, Logger: quietLogger()})
		require.NoError(t, err)
		it, err := dl.Iter(context.Background())
		require.NoError(t, err)
		batches := drain(t, it)
		for _, mb := range batches {
			require.NoError(t, mb.Wait(context.Background()))
		}
		return batches
	}
	batches := run()
	require.Len(t, batches, 3)
	for _, mb := range batches {
		require.Len(t, mb.Blocks, 2)
		require.Equal(t, sifgraph.Typed(mb.Seeds)[sifgraph.DefaultNodeType], mb.Blocks[1].DstNodes[sifgraph.DefaultNodeType])
		require.Equal(t, mb.Blocks[0].DstNodes, mb.Blocks[1].SrcNodes)
		inputNodes := sifgraph.Typed(mb.InputNodes)[sifgraph.DefaultNodeType]
		feat, err := tensor.AsFloat32(mb.NodeFeatures[sifgraph.FeatureKey{Type: sifgraph.DefaultNodeType, Name: "feat"}])
		require.NoError(t, err)
		require.Len(t, feat, 2*len(inputNodes))
		for i, id := range inputNodes {
			require.Equal(t, float32(id), feat[2*i])
		}
		require.Equal(t, tensor.CPU, mb.Device())
	}

	// a single worker with a fixed seed samples reproducibly
	again := run()
	for i := range batches {
		require.Equal(t, batches[i].InputNodes, again[i].InputNodes)
	}
}

func TestCopyToBlocking(t *testing.T) {
	mb := sifgraph.NewMiniBatch(0, sifgraph.Homogeneous{1})
	original := tensor.MustFromFloat32([]float32{1, 2}, 1, 2)
	mb.NodeFeatures[sifgraph.FeatureKey{Type: sifgraph.DefaultNodeType, Name: "x"}] = original
	sctx := NewWorkerContext(context.Background(), 0, 1, quietLogger())
	out, err := (&CopyTo{}).Process(sctx, mb)
	require.NoError(t, err)
	require.NoError(t, out.Wait(context.Background()))
	moved := out.NodeFeatures[sifgraph.FeatureKey{Type: sifgraph.DefaultNodeType, Name: "x"}]
	require.NotSame(t, original, moved)
	values, err := tensor.AsFloat32(moved)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, values)
}
