package rpc

// MRegisterClientRequest announces a new client to the coordinator
type MRegisterClientRequest struct {
	SessionID string `msgpack:"session_id"`
	Host      string `msgpack:"host"`
}

// MRegisterClientResponse carries the id assigned to a client
type MRegisterClientResponse struct {
	ClientID   int32 `msgpack:"client_id"`
	NumClients int32 `msgpack:"num_clients"`
}

// Partition book kinds
const (
	BookRange  = "range"
	BookTensor = "tensor"
	BookHash   = "hash"
)

// MPartitionBook is the wire form of a partition book. Bounds holds the exclusive upper bound
// of each rank for range books, and Owners the owning rank of each id for tensor books.
type MPartitionBook struct {
	Kind          string  `msgpack:"kind"`
	NumKeys       int64   `msgpack:"num_keys"`
	NumPartitions int32   `msgpack:"num_partitions"`
	Bounds        []int64 `msgpack:"bounds,omitempty"`
	Owners        []int32 `msgpack:"owners,omitempty"`
	Fingerprint   uint64  `msgpack:"fingerprint"`
}

// MSetPartitionBookRequest publishes the partition book of a tensor
type MSetPartitionBookRequest struct {
	Name string          `msgpack:"name"`
	Book *MPartitionBook `msgpack:"book"`
}

// MSetPartitionBookResponse reports whether the request published the book
type MSetPartitionBookResponse struct {
	Published bool `msgpack:"published"`
}

// MGetPartitionBookRequest fetches the partition book of a tensor
type MGetPartitionBookRequest struct {
	Name string `msgpack:"name"`
}

// MGetPartitionBookResponse carries a nil Book if none has been published yet
type MGetPartitionBookResponse struct {
	Book *MPartitionBook `msgpack:"book"`
}

// MBarrierRequest enters the barrier
type MBarrierRequest struct {
	ClientID int32 `msgpack:"client_id"`
}

// MBarrierResponse is sent once every client has entered the barrier
type MBarrierResponse struct {
	Generation int64 `msgpack:"generation"`
}

// Row initializers and handlers
const (
	InitZero    = "zero"
	InitUniform = "uniform"

	HandlerAssign = "assign"
	HandlerAdd    = "add"
)

// MInitDataRequest allocates the rows of a tensor owned by a server
type MInitDataRequest struct {
	Name     string  `msgpack:"name"`
	RowShape []int32 `msgpack:"row_shape"`
	IDs      []int64 `msgpack:"ids"`
	Init     string  `msgpack:"init"`
	Low      float32 `msgpack:"low"`
	High     float32 `msgpack:"high"`
	Handler  string  `msgpack:"handler"`
	Seed     uint64  `msgpack:"seed"`
}

// MInitDataResponse reports the number of rows a server allocated
type MInitDataResponse struct {
	NumRows int64 `msgpack:"num_rows"`
}

// MPushRequest writes rows. Data holds little-endian float32 values, possibly compressed
// with Codec, and RawSize is the uncompressed length.
type MPushRequest struct {
	Name     string  `msgpack:"name"`
	RowShape []int32 `msgpack:"row_shape"`
	IDs      []int64 `msgpack:"ids"`
	Codec    byte    `msgpack:"codec"`
	RawSize  int32   `msgpack:"raw_size"`
	Data     []byte  `msgpack:"data"`
}

// MPushResponse reports the number of rows written
type MPushResponse struct {
	NumRows int64 `msgpack:"num_rows"`
}

// MPullRequest reads rows, which are streamed back in chunks of at most ChunkRows
type MPullRequest struct {
	Name      string  `msgpack:"name"`
	IDs       []int64 `msgpack:"ids"`
	ChunkRows int32   `msgpack:"chunk_rows"`
	Codec     byte    `msgpack:"codec"`
}

// MPullChunk holds the rows of ids[Offset:Offset+NumRows]. If HasMissing is set, MissingID
// was never written and the stream ends.
type MPullChunk struct {
	Offset     int64   `msgpack:"offset"`
	NumRows    int32   `msgpack:"num_rows"`
	RowShape   []int32 `msgpack:"row_shape"`
	Codec      byte    `msgpack:"codec"`
	RawSize    int32   `msgpack:"raw_size"`
	Data       []byte  `msgpack:"data"`
	HasMissing bool    `msgpack:"has_missing"`
	MissingID  int64   `msgpack:"missing_id"`
}

// MStopRequest asks a node to shut down
type MStopRequest struct{}

// MStopResponse acknowledges an MStopRequest
type MStopResponse struct{}

// MLogMsg is a single forwarded log message
type MLogMsg struct {
	Source  string `msgpack:"source"`
	Level   int32  `msgpack:"level"`
	Message string `msgpack:"message"`
}

// MLogMsgAck closes a log stream
type MLogMsgAck struct {
	Time  int64 `msgpack:"time"`
	Count int64 `msgpack:"count"`
}

// MStatisticsRequest asks a node for its statistics
type MStatisticsRequest struct{}
