package sifgraph

import (
	"context"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
)

// StageContext is the context a Stage runs in. Each pipeline worker owns exactly one, so its
// random source and values are never shared between concurrently processed batches.
type StageContext interface {
	context.Context
	// WorkerID returns the index of the worker running the Stage
	WorkerID() int
	// Rand returns the worker's private random source
	Rand() *rand.Rand
	// Get returns a value stored in the worker context during initialization
	Get(key string) (interface{}, bool)
	Logger() logrus.FieldLogger
}

// WorkerContext is the StageContext of a worker while it is being initialized. Values and the
// collate function may only be set before the worker processes its first batch.
type WorkerContext interface {
	StageContext
	Set(key string, value interface{}) error
	SetCollator(collate Collator) error
}

// WorkerInitializer prepares a worker's context before it processes any batch
type WorkerInitializer func(wctx WorkerContext) error

// Collator turns a batch of items into a MiniBatch
type Collator func(sctx StageContext, batch *ItemBatch) (*MiniBatch, error)
