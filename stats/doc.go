// Package stats describes the runtime statistics a sifgraph key-value server reports through its
// Stats service
package stats

import "time"

// ServerStatistics is a snapshot of the work performed by one key-value server
type ServerStatistics struct {
	Rank          int              `msgpack:"rank"`
	StartTime     int64            `msgpack:"start_time"` // unix nanoseconds
	Uptime        time.Duration    `msgpack:"uptime"`
	ShutDown      bool             `msgpack:"shut_down"`
	Tensors       map[string]int64 `msgpack:"tensors"` // rows held, by tensor name
	PushRequests  int64            `msgpack:"push_requests"`
	PullRequests  int64            `msgpack:"pull_requests"`
	RowsPushed    int64            `msgpack:"rows_pushed"`
	RowsPulled    int64            `msgpack:"rows_pulled"`
	BytesReceived int64            `msgpack:"bytes_received"` // payload bytes as received, after compression
	BytesSent     int64            `msgpack:"bytes_sent"`     // payload bytes as sent, after compression
}

// NumRows returns the total number of rows held across all tensors
func (s *ServerStatistics) NumRows() int64 {
	var n int64
	for _, rows := range s.Tensors {
		n += rows
	}
	return n
}
