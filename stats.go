package sifgraph

import "time"

// RuntimeStatistics facilitates the retrieval of statistics about a running data loader
type RuntimeStatistics interface {
	// GetStartTime returns the start time of the current epoch
	GetStartTime() time.Time
	// GetRuntime returns the running time of the current epoch
	GetRuntime() time.Duration
	// GetNumBatchesProcessed returns the number of batches which have been delivered so far
	GetNumBatchesProcessed() int64
	// GetNumItemsProcessed returns the number of items, across all delivered batches
	GetNumItemsProcessed() int64
	// GetNumBatchErrors returns the number of batches which failed in some Stage
	GetNumBatchErrors() int64
	// GetCurrentBatchProcessingTime returns a rolling average of batch processing time
	GetCurrentBatchProcessingTime() time.Duration
	// GetStageRuntimes returns the most recent runtime of each Stage, in pipeline order
	GetStageRuntimes() []time.Duration
}
