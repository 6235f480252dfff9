package dataloading

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-sif/sifgraph"
	"github.com/sirupsen/logrus"
)

type workerContextKey string

const collatorKey workerContextKey = "sifgraph.dataloading.workerContextImpl.collator"

func valueKey(key string) workerContextKey {
	return workerContextKey("sifgraph.dataloading.workerContextImpl.value." + key)
}

// workerContextImpl is owned by a single worker goroutine. It accepts values while the worker
// is initialized, and is sealed before the first batch.
type workerContextImpl struct {
	ctx    context.Context
	id     int
	rng    *rand.Rand
	logger logrus.FieldLogger
	sealed bool
}

// NewWorkerContext creates the context of one pipeline worker. Its random source is derived from
// seed and the worker id, so a run is reproducible for a fixed seed and worker count.
func NewWorkerContext(ctx context.Context, workerID int, seed uint64, logger logrus.FieldLogger) sifgraph.WorkerContext {
	return &workerContextImpl{
		ctx:    ctx,
		id:     workerID,
		rng:    rand.New(rand.NewPCG(seed, uint64(workerID))),
		logger: logger.WithField("worker", workerID),
	}
}

func (w *workerContextImpl) Deadline() (deadline time.Time, ok bool) {
	return w.ctx.Deadline()
}

func (w *workerContextImpl) Done() <-chan struct{} {
	return w.ctx.Done()
}

func (w *workerContextImpl) Err() error {
	return w.ctx.Err()
}

func (w *workerContextImpl) Value(key interface{}) interface{} {
	return w.ctx.Value(key)
}

func (w *workerContextImpl) WorkerID() int {
	return w.id
}

func (w *workerContextImpl) Rand() *rand.Rand {
	return w.rng
}

func (w *workerContextImpl) Logger() logrus.FieldLogger {
	return w.logger
}

// Get retrieves a value set during initialization
func (w *workerContextImpl) Get(key string) (interface{}, bool) {
	v := w.ctx.Value(valueKey(key))
	return v, v != nil
}

// Set stores a value for the lifetime of the worker
func (w *workerContextImpl) Set(key string, value interface{}) error {
	if w.sealed {
		return fmt.Errorf("Cannot set value %q for worker %d after initialization", key, w.id)
	}
	if _, ok := w.Get(key); ok {
		return fmt.Errorf("Cannot overwrite value %q for worker %d (already set)", key, w.id)
	}
	w.ctx = context.WithValue(w.ctx, valueKey(key), value)
	return nil
}

// Collator retrieves the worker's collate function, if one was set
func (w *workerContextImpl) Collator() sifgraph.Collator {
	if c := w.ctx.Value(collatorKey); c != nil {
		return c.(sifgraph.Collator)
	}
	return nil
}

// SetCollator configures the collate function of this worker
func (w *workerContextImpl) SetCollator(collate sifgraph.Collator) error {
	if w.sealed {
		return fmt.Errorf("Cannot set Collator for worker %d after initialization", w.id)
	}
	if w.Collator() != nil {
		return fmt.Errorf("Cannot overwrite Collator for worker %d (already set)", w.id)
	}
	w.ctx = context.WithValue(w.ctx, collatorKey, collate)
	return nil
}

// seal prevents further changes, once initialization is complete
func (w *workerContextImpl) seal() {
	w.sealed = true
}
