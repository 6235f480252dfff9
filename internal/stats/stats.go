package stats

import (
	"sync"
	"time"
)

const statisticRollingWindows = 5

// RunStatistics contains statistics about a running data loader. Workers record into it
// concurrently.
type RunStatistics struct {
	lock                    sync.Mutex
	started                 bool
	finished                bool
	startTime               time.Time
	totalRuntime            time.Duration
	batchesProcessed        int64
	itemsProcessed          int64
	batchErrors             int64
	recentBatchRuntimes     []time.Duration // for rolling average of recent batch processing times
	recentBatchRuntimesHead int
	stageRuntimes           []time.Duration // most recent runtime of each stage
}

// Start triggers statistics tracking, resetting any previous run
func (rs *RunStatistics) Start(numStages int) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.started = true
	rs.finished = false
	rs.startTime = time.Now()
	rs.totalRuntime = 0
	rs.batchesProcessed = 0
	rs.itemsProcessed = 0
	rs.batchErrors = 0
	rs.recentBatchRuntimes = make([]time.Duration, statisticRollingWindows)
	rs.recentBatchRuntimesHead = 0
	rs.stageRuntimes = make([]time.Duration, numStages)
}

// Finish completes statistics tracking
func (rs *RunStatistics) Finish() {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.started && !rs.finished {
		rs.totalRuntime = time.Since(rs.startTime)
		rs.finished = true
	}
}

// EndStage records the runtime of one Stage on one batch
func (rs *RunStatistics) EndStage(sidx int, runtime time.Duration) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if sidx < len(rs.stageRuntimes) {
		rs.stageRuntimes[sidx] = runtime
	}
}

// EndBatch records the delivery of a batch
func (rs *RunStatistics) EndBatch(numItems int, runtime time.Duration, failed bool) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.recentBatchRuntimes == nil {
		return
	}
	rs.recentBatchRuntimes[rs.recentBatchRuntimesHead] = runtime
	rs.recentBatchRuntimesHead = (rs.recentBatchRuntimesHead + 1) % len(rs.recentBatchRuntimes)
	rs.batchesProcessed++
	rs.itemsProcessed += int64(numItems)
	if failed {
		rs.batchErrors++
	}
}

// GetStartTime returns the start time of the current run
func (rs *RunStatistics) GetStartTime() time.Time {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.startTime
}

// GetRuntime returns the running time of the current run
func (rs *RunStatistics) GetRuntime() time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if !rs.started {
		return 0
	}
	if rs.finished {
		return rs.totalRuntime
	}
	return time.Since(rs.startTime)
}

// GetNumBatchesProcessed returns the number of batches delivered so far
func (rs *RunStatistics) GetNumBatchesProcessed() int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.batchesProcessed
}

// GetNumItemsProcessed returns the number of items delivered so far
func (rs *RunStatistics) GetNumItemsProcessed() int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.itemsProcessed
}

// GetNumBatchErrors returns the number of failed batches
func (rs *RunStatistics) GetNumBatchErrors() int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.batchErrors
}

// GetCurrentBatchProcessingTime returns a rolling average of batch processing time
func (rs *RunStatistics) GetCurrentBatchProcessingTime() time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	var total time.Duration
	for _, d := range rs.recentBatchRuntimes {
		total += d
	}
	return total / statisticRollingWindows
}

// GetStageRuntimes returns the most recent runtime of each stage
func (rs *RunStatistics) GetStageRuntimes() []time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return append([]time.Duration(nil), rs.stageRuntimes...)
}
