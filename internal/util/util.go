package util

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// CreateAsyncErrorChannel produces a channel for errors
func CreateAsyncErrorChannel() chan error {
	return make(chan error)
}

// WaitAndFetchError waits for every goroutine tracked by wg, returning the first error sent on
// errors. Errors sent after the first are discarded, so that no sender blocks forever.
func WaitAndFetchError(wg *sync.WaitGroup, errors chan error) error {
	go func() {
		defer close(errors)
		wg.Wait()
	}()
	for err := range errors {
		if err != nil {
			go func() {
				for range errors {
				}
			}()
			return err
		}
	}
	return nil
}

// ComputeHashBuckets divides the uint64 hash space into n contiguous buckets, returning the
// inclusive upper bound of each
func ComputeHashBuckets(n int) []uint64 {
	buckets := make([]uint64, n)
	interval := uint64(math.MaxUint64) / uint64(n)
	for i := range buckets {
		buckets[i] = uint64(i+1) * interval
	}
	// this compensates for rounding errors, but makes
	// the last bucket a bit bigger than the others
	buckets[n-1] = uint64(math.MaxUint64)
	return buckets
}

// BucketOf returns the index of the bucket containing hash
func BucketOf(buckets []uint64, hash uint64) int {
	return sort.Search(len(buckets), func(i int) bool { return hash <= buckets[i] })
}

// GetTrace produces the string representation of a stack trace
func GetTrace() string {
	var pc [16]uintptr
	var res strings.Builder
	n := runtime.Callers(3, pc[:])
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&res, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return res.String()
}

// FormatMultiError formats multierrors for logging
func FormatMultiError(merrs []error) string {
	var msg strings.Builder
	for _, err := range merrs {
		fmt.Fprintf(&msg, "%+v\n", err)
	}
	return msg.String()
}
