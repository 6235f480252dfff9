// Package dataloading runs sampling pipelines. A DataLoader feeds the ItemBatches of a
// MinibatchSampler through a sequence of Stages on a pool of workers, and yields finished
// MiniBatches in order.
package dataloading

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/internal/metrics"
	"github.com/go-sif/sifgraph/internal/stats"
	"github.com/go-sif/sifgraph/internal/util"
	"github.com/go-sif/sifgraph/itemset"
	"github.com/go-sif/sifgraph/logging"
	uuid "github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const collateStage = "collate"

// Options configure a DataLoader
type Options struct {
	NumWorkers   int           // number of concurrent workers. Defaults to 1.
	QueueSize    int           // maximum number of batches in flight. Defaults to 4 per worker.
	QueueTimeout time.Duration // maximum wait for the next batch before Next gives up. Defaults to 10s.
	// Unordered yields batches as soon as they are finished, instead of in sampler order
	Unordered bool
	// WorkerInit runs once per worker, before the worker processes any batch
	WorkerInit sifgraph.WorkerInitializer
	// Collate turns ItemBatches into MiniBatches, unless a worker sets its own Collator during
	// WorkerInit. Defaults to itemset.Collate.
	Collate sifgraph.Collator
	// Seed determines the random sources of all workers
	Seed   uint64
	Logger logrus.FieldLogger
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.NumWorkers * 4
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 10 * time.Second
	}
	if opts.Collate == nil {
		opts.Collate = itemset.Collate
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
}

// DataLoader runs the Stages of a sampling pipeline over the batches of a MinibatchSampler
type DataLoader struct {
	id      string
	sampler *itemset.MinibatchSampler
	stages  []sifgraph.Stage
	opts    *Options
	logger  logrus.FieldLogger
	stats   *stats.RunStatistics

	lock    sync.Mutex
	epoch   int
	current *Iterator
}

// New creates a DataLoader. Stages run in the given order on every batch.
func New(sampler *itemset.MinibatchSampler, stages []sifgraph.Stage, opts *Options) (*DataLoader, error) {
	if sampler == nil {
		return nil, fmt.Errorf("data loader requires a minibatch sampler")
	}
	if opts == nil {
		opts = &Options{}
	}
	ensureDefaultOptionsValues(opts)
	for i, stage := range stages {
		if stage == nil {
			return nil, fmt.Errorf("stage %d of the data loader is nil", i)
		}
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("unable to generate data loader id: %w", err)
	}
	return &DataLoader{
		id:      id.String(),
		sampler: sampler,
		stages:  stages,
		opts:    opts,
		logger:  opts.Logger.WithField("loader", id.String()),
		stats:   &stats.RunStatistics{},
	}, nil
}

// ID returns the unique id of this DataLoader
func (dl *DataLoader) ID() string {
	return dl.id
}

// NumBatches returns the number of batches yielded per epoch
func (dl *DataLoader) NumBatches() int {
	return dl.sampler.NumBatches()
}

// Stats returns statistics about the current or most recent epoch
func (dl *DataLoader) Stats() sifgraph.RuntimeStatistics {
	return dl.stats
}

// Iter starts a new epoch. Every worker is created and initialized before Iter returns. The
// Iterator of the previous epoch must be exhausted or closed first.
func (dl *DataLoader) Iter(ctx context.Context) (*Iterator, error) {
	dl.lock.Lock()
	defer dl.lock.Unlock()
	if dl.current != nil && !dl.current.isClosed() {
		return nil, errors.StateError{Op: "start a new epoch", State: fmt.Sprintf("epoch %d is running", dl.current.epoch)}
	}
	epoch := dl.epoch
	runCtx, cancel := context.WithCancel(ctx)
	workers := make([]*workerContextImpl, dl.opts.NumWorkers)
	var initErrs *multierror.Error
	for i := range workers {
		wctx := NewWorkerContext(runCtx, i, dl.opts.Seed+uint64(epoch), dl.logger).(*workerContextImpl)
		if dl.opts.WorkerInit != nil {
			if err := dl.opts.WorkerInit(wctx); err != nil {
				initErrs = multierror.Append(initErrs, fmt.Errorf("unable to initialize worker %d: %w", i, err))
				continue
			}
		}
		if wctx.Collator() == nil {
			if err := wctx.SetCollator(dl.opts.Collate); err != nil {
				initErrs = multierror.Append(initErrs, err)
				continue
			}
		}
		wctx.seal()
		workers[i] = wctx
	}
	if err := initErrs.ErrorOrNil(); err != nil {
		cancel()
		return nil, err
	}
	dl.epoch++
	it := &Iterator{
		loader:     dl,
		epoch:      epoch,
		cancel:     cancel,
		sem:        semaphore.NewWeighted(int64(dl.opts.QueueSize)),
		out:        make(chan *batchResult, dl.opts.QueueSize),
		numBatches: dl.sampler.NumBatches(),
		timeout:    dl.opts.QueueTimeout,
	}
	dl.current = it
	dl.stats.Start(len(dl.stages))
	dl.logger.WithField("epoch", epoch).Debugf("Starting epoch with %d workers and %d batches", len(workers), it.numBatches)
	it.start(runCtx, dl.sampler.Epoch(epoch), workers)
	return it, nil
}

type batchResult struct {
	index   int
	mb      *sifgraph.MiniBatch
	err     error
	items   int
	runtime time.Duration
}

// Iterator yields the MiniBatches of one epoch. It is not safe for concurrent use.
type Iterator struct {
	loader     *DataLoader
	epoch      int
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sem        *semaphore.Weighted
	out        chan *batchResult
	numBatches int
	timeout    time.Duration
	delivered  int
	closeOnce  sync.Once
	closed     int32
}

func (it *Iterator) start(ctx context.Context, batches *itemset.EpochIterator, workers []*workerContextImpl) {
	items := make(chan *sifgraph.ItemBatch)
	results := make(chan *batchResult)

	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		defer close(items)
		for batches.HasNext() {
			// acquired per batch and released once the consumer receives it
			if err := it.sem.Acquire(ctx, 1); err != nil {
				return
			}
			select {
			case items <- batches.NextBatch():
			case <-ctx.Done():
				return
			}
		}
	}()

	var workersDone sync.WaitGroup
	for _, wctx := range workers {
		workersDone.Add(1)
		go func(wctx *workerContextImpl) {
			defer workersDone.Done()
			collate := util.SafeCollator(wctx.Collator())
			stages := make([]func(sifgraph.StageContext, *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error), len(it.loader.stages))
			for i, stage := range it.loader.stages {
				stages[i] = util.SafeStage(stage)
			}
			for batch := range items {
				res := it.loader.process(wctx, collate, stages, batch)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}(wctx)
	}
	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		workersDone.Wait()
		close(results)
	}()

	it.wg.Add(1)
	go func() {
		defer it.wg.Done()
		defer close(it.out)
		emit := func(res *batchResult) bool {
			select {
			case it.out <- res:
				metrics.LoaderQueueDepth.Inc()
				return true
			case <-ctx.Done():
				return false
			}
		}
		pending := make(map[int]*batchResult)
		next := 0
		for res := range results {
			if it.loader.opts.Unordered {
				if !emit(res) {
					return
				}
				continue
			}
			pending[res.index] = res
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if !emit(ready) {
					return
				}
			}
		}
	}()
}

// process runs the collate function and every Stage on one batch
func (dl *DataLoader) process(wctx *workerContextImpl, collate sifgraph.Collator, stages []func(sifgraph.StageContext, *sifgraph.MiniBatch) (*sifgraph.MiniBatch, error), batch *sifgraph.ItemBatch) *batchResult {
	start := time.Now()
	res := &batchResult{index: batch.Index, items: batch.Len()}
	defer func() {
		res.runtime = time.Since(start)
	}()
	mb, err := collate(wctx, batch)
	if err != nil {
		res.err = errors.BatchError{Index: batch.Index, Stage: collateStage, Err: err}
		return res
	}
	mb.Index = batch.Index
	for sidx, process := range stages {
		name := dl.stages[sidx].Name()
		stageStart := time.Now()
		mb, err = process(wctx, mb)
		elapsed := time.Since(stageStart)
		dl.stats.EndStage(sidx, elapsed)
		metrics.LoaderStageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if err != nil {
			wctx.Logger().WithField("stage", name).Debugf("Batch %d failed: %v", batch.Index, err)
			res.err = errors.BatchError{Index: batch.Index, Stage: name, Err: err}
			return res
		}
	}
	res.mb = mb
	return res
}

// NumBatches returns the number of batches of this epoch
func (it *Iterator) NumBatches() int {
	return it.numBatches
}

// Next returns the next MiniBatch of the epoch, or io.EOF once every batch has been delivered.
// A batch which failed is reported as an errors.BatchError, and iteration may continue past it.
// If no batch arrives within the queue timeout, Next returns an errors.StallError.
func (it *Iterator) Next(ctx context.Context) (*sifgraph.MiniBatch, error) {
	if it.delivered >= it.numBatches {
		it.Close()
		return nil, io.EOF
	}
	if it.isClosed() {
		return nil, errors.StateError{Op: "fetch the next batch", State: "the iterator is closed"}
	}
	timer := time.NewTimer(it.timeout)
	defer timer.Stop()
	select {
	case res, ok := <-it.out:
		if !ok {
			return nil, errors.StateError{Op: "fetch the next batch", State: "the epoch was cancelled"}
		}
		metrics.LoaderQueueDepth.Dec()
		it.sem.Release(1)
		it.delivered++
		it.loader.stats.EndBatch(res.items, res.runtime, res.err != nil)
		if res.err != nil {
			metrics.LoaderBatches.WithLabelValues("error").Inc()
			return nil, res.err
		}
		metrics.LoaderBatches.WithLabelValues("ok").Inc()
		return res.mb, nil
	case <-timer.C:
		return nil, errors.StallError{Waited: it.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels any remaining work of this epoch, and waits for every goroutine to exit. It is
// safe to call Close more than once.
func (it *Iterator) Close() {
	it.closeOnce.Do(func() {
		it.cancel()
		it.wg.Wait()
		for range it.out {
			metrics.LoaderQueueDepth.Dec()
		}
		atomic.StoreInt32(&it.closed, 1)
		it.loader.stats.Finish()
		it.loader.logger.WithField("epoch", it.epoch).Debugf("Finished epoch after %d of %d batches", it.delivered, it.numBatches)
	})
}

func (it *Iterator) isClosed() bool {
	return atomic.LoadInt32(&it.closed) == 1
}
