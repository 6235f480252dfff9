package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStatistics(t *testing.T) {
	var rs RunStatistics
	require.Zero(t, rs.GetRuntime())
	rs.Start(2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs.EndStage(i%2, time.Millisecond)
			rs.EndBatch(3, 5*time.Millisecond, i == 0)
		}(i)
	}
	wg.Wait()
	rs.Finish()

	require.EqualValues(t, 10, rs.GetNumBatchesProcessed())
	require.EqualValues(t, 30, rs.GetNumItemsProcessed())
	require.EqualValues(t, 1, rs.GetNumBatchErrors())
	require.Equal(t, 5*time.Millisecond, rs.GetCurrentBatchProcessingTime())
	require.Equal(t, []time.Duration{time.Millisecond, time.Millisecond}, rs.GetStageRuntimes())
	runtime := rs.GetRuntime()
	require.Equal(t, runtime, rs.GetRuntime())

	rs.Start(1)
	require.Zero(t, rs.GetNumBatchesProcessed())
	require.Len(t, rs.GetStageRuntimes(), 1)
}
