package cluster

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sif/sifgraph/internal/metrics"
	"github.com/go-sif/sifgraph/internal/rpc"
	iutil "github.com/go-sif/sifgraph/internal/util"
	"github.com/go-sif/sifgraph/stats"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/moby/locker"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// shutDownMessage is the status message of requests rejected after a shut down
const shutDownMessage = "server has been shut down"

// initSpec records how a tensor was initialized explicitly
type initSpec struct {
	init    string
	low     float32
	high    float32
	seed    uint64
	handler string
}

// shard holds the rows of one tensor owned by a server
type shard struct {
	name     string
	rowShape []int32
	width    int // float32 values per row

	lock          sync.RWMutex
	handler       string
	initialized   *initSpec // nil while the tensor only exists through pushes
	globalToLocal map[int64]int
	data          []float32
	written       []bool
}

func newShard(name string, rowShape []int32, handler string) *shard {
	width := 1
	for _, d := range rowShape {
		width *= int(d)
	}
	return &shard{
		name:          name,
		rowShape:      slices.Clone(rowShape),
		width:         width,
		handler:       handler,
		globalToLocal: make(map[int64]int),
	}
}

// row returns the local row of id, allocating it if necessary. Callers hold the write lock.
func (sh *shard) row(id int64) int {
	local, ok := sh.globalToLocal[id]
	if !ok {
		local = len(sh.written)
		sh.globalToLocal[id] = local
		sh.data = append(sh.data, make([]float32, sh.width)...)
		sh.written = append(sh.written, false)
	}
	return local
}

func (sh *shard) numRows() int {
	sh.lock.RLock()
	defer sh.lock.RUnlock()
	return len(sh.written)
}

type kvServer struct {
	rank      int
	opts      *NodeOptions
	logger    logrus.FieldLogger
	startTime time.Time

	creation   *locker.Locker
	shardsLock sync.RWMutex
	shards     map[string]*shard

	shutDownOnce sync.Once
	shutDownCh   chan struct{}
	isShutDown   atomic.Bool

	pushRequests  atomic.Int64
	pullRequests  atomic.Int64
	rowsPushed    atomic.Int64
	rowsPulled    atomic.Int64
	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
}

// createKVServer creates a new kv server
func createKVServer(rank int, opts *NodeOptions, logger logrus.FieldLogger) *kvServer {
	return &kvServer{
		rank:       rank,
		opts:       opts,
		logger:     logger,
		startTime:  time.Now(),
		creation:   locker.New(),
		shards:     make(map[string]*shard),
		shutDownCh: make(chan struct{}),
	}
}

// shutDown marks the server as shut down, returning true the first time it is called
func (s *kvServer) shutDown() bool {
	first := false
	s.shutDownOnce.Do(func() {
		first = true
		s.isShutDown.Store(true)
		close(s.shutDownCh)
		s.logger.Info("Shut down, rejecting further data requests")
	})
	return first
}

func (s *kvServer) checkRunning() error {
	if s.isShutDown.Load() {
		return status.Error(codes.FailedPrecondition, shutDownMessage)
	}
	return nil
}

func (s *kvServer) getShard(name string) *shard {
	s.shardsLock.RLock()
	defer s.shardsLock.RUnlock()
	return s.shards[name]
}

// getOrCreateShard returns the shard for name, creating it with rowShape and handler if it
// does not exist yet. An existing shard must have the same row shape.
func (s *kvServer) getOrCreateShard(name string, rowShape []int32, handler string) (*shard, error) {
	s.creation.Lock(name)
	defer s.creation.Unlock(name)
	if sh := s.getShard(name); sh != nil {
		if !slices.Equal(sh.rowShape, rowShape) {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %q has row shape %v, not %v", name, sh.rowShape, rowShape)
		}
		return sh, nil
	}
	sh := newShard(name, rowShape, handler)
	s.shardsLock.Lock()
	s.shards[name] = sh
	s.shardsLock.Unlock()
	s.logger.Debugf("Created tensor %q with row shape %v", name, rowShape)
	return sh, nil
}

// InitData allocates the given rows of a tensor, filled by the requested initializer, and sets
// its push handler. Rows which were already pushed keep their values. A tensor which was created
// by a push takes the requested handler; one which was initialized before must be initialized
// the same way again.
func (s *kvServer) InitData(ctx context.Context, req *rpc.MInitDataRequest) (*rpc.MInitDataResponse, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	spec := initSpec{init: req.Init, low: req.Low, high: req.High, seed: req.Seed, handler: req.Handler}
	if spec.handler == "" {
		spec.handler = rpc.HandlerAssign
	}
	if spec.init == "" {
		spec.init = rpc.InitZero
	}
	if spec.handler != rpc.HandlerAssign && spec.handler != rpc.HandlerAdd {
		return nil, status.Errorf(codes.InvalidArgument, "unknown push handler %q", req.Handler)
	}
	var fill func() float32
	switch spec.init {
	case rpc.InitZero:
		fill = func() float32 { return 0 }
	case rpc.InitUniform:
		if req.High < req.Low {
			return nil, status.Errorf(codes.InvalidArgument, "uniform initializer requires low <= high, got [%v, %v)", req.Low, req.High)
		}
		dist := distuv.Uniform{Min: float64(req.Low), Max: float64(req.High), Src: rand.NewPCG(req.Seed, uint64(s.rank))}
		fill = func() float32 { return float32(dist.Rand()) }
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown initializer %q", req.Init)
	}
	sh, err := s.getOrCreateShard(req.Name, req.RowShape, spec.handler)
	if err != nil {
		return nil, err
	}
	sh.lock.Lock()
	if sh.initialized != nil && *sh.initialized != spec {
		prev := *sh.initialized
		sh.lock.Unlock()
		return nil, status.Errorf(codes.FailedPrecondition, "tensor %q is initialized with %s and the %s handler", req.Name, prev.init, prev.handler)
	}
	sh.initialized = &spec
	sh.handler = spec.handler
	for _, id := range req.IDs {
		local := sh.row(id)
		if sh.written[local] {
			continue
		}
		row := sh.data[local*sh.width : (local+1)*sh.width]
		for i := range row {
			row[i] = fill()
		}
		sh.written[local] = true
	}
	n := len(sh.written)
	sh.lock.Unlock()
	metrics.KVRows.WithLabelValues(req.Name).Set(float64(n))
	return &rpc.MInitDataResponse{NumRows: int64(n)}, nil
}

// Push writes rows, creating the tensor on first use
func (s *kvServer) Push(ctx context.Context, req *rpc.MPushRequest) (*rpc.MPushResponse, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	s.pushRequests.Add(1)
	s.bytesReceived.Add(int64(len(req.Data)))
	raw, err := decodePayload(req.Codec, req.Data, int(req.RawSize))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sh, err := s.getOrCreateShard(req.Name, req.RowShape, rpc.HandlerAssign)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(req.IDs)*sh.width*tensor.Float32.Size() {
		return nil, status.Errorf(codes.InvalidArgument, "payload of %d bytes does not hold %d rows of %v", len(raw), len(req.IDs), req.RowShape)
	}
	values, err := decodeRows(raw, len(req.IDs), sh.rowShape)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sh.lock.Lock()
	for i, id := range req.IDs {
		local := sh.row(id)
		row := sh.data[local*sh.width : (local+1)*sh.width]
		src := values[i*sh.width : (i+1)*sh.width]
		if sh.handler == rpc.HandlerAdd {
			for j := range row {
				row[j] += src[j]
			}
		} else {
			copy(row, src)
		}
		sh.written[local] = true
	}
	n := len(sh.written)
	sh.lock.Unlock()
	s.rowsPushed.Add(int64(len(req.IDs)))
	metrics.KVRows.WithLabelValues(req.Name).Set(float64(n))
	return &rpc.MPushResponse{NumRows: int64(len(req.IDs))}, nil
}

// Pull streams the requested rows back in chunks. If a row was never written, the stream ends
// with a chunk naming the missing id.
func (s *kvServer) Pull(req *rpc.MPullRequest, stream grpc.ServerStreamingServer[rpc.MPullChunk]) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.pullRequests.Add(1)
	if len(req.IDs) == 0 {
		return nil
	}
	sh := s.getShard(req.Name)
	if sh == nil {
		return stream.Send(&rpc.MPullChunk{HasMissing: true, MissingID: req.IDs[0]})
	}
	chunkRows := int(req.ChunkRows)
	if chunkRows <= 0 {
		chunkRows = s.opts.PullChunkRows
	}
	codec := req.Codec
	if codec == 0 {
		codec = iutil.RawPayload
	}
	for offset := 0; offset < len(req.IDs); offset += chunkRows {
		end := min(offset+chunkRows, len(req.IDs))
		values := make([]float32, 0, (end-offset)*sh.width)
		missing := int64(-1)
		sh.lock.RLock()
		for _, id := range req.IDs[offset:end] {
			local, ok := sh.globalToLocal[id]
			if !ok || !sh.written[local] {
				missing = id
				break
			}
			values = append(values, sh.data[local*sh.width:(local+1)*sh.width]...)
		}
		sh.lock.RUnlock()
		if missing >= 0 {
			return stream.Send(&rpc.MPullChunk{Offset: int64(offset), HasMissing: true, MissingID: missing})
		}
		raw, err := encodeRows(values, end-offset, sh.rowShape)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		used, data, err := encodePayload(raw, codec, s.opts.CompressionThreshold)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		chunk := &rpc.MPullChunk{
			Offset:   int64(offset),
			NumRows:  int32(end - offset),
			RowShape: sh.rowShape,
			Codec:    used,
			RawSize:  int32(len(raw)),
			Data:     data,
		}
		if err := stream.Send(chunk); err != nil {
			return err
		}
		s.rowsPulled.Add(int64(end - offset))
		s.bytesSent.Add(int64(len(data)))
	}
	return nil
}

func (s *kvServer) statistics() *stats.ServerStatistics {
	s.shardsLock.RLock()
	shards := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		shards = append(shards, sh)
	}
	s.shardsLock.RUnlock()
	tensors := make(map[string]int64, len(shards))
	for _, sh := range shards {
		tensors[sh.name] = int64(sh.numRows())
	}
	return &stats.ServerStatistics{
		Rank:          s.rank,
		StartTime:     s.startTime.UnixNano(),
		Uptime:        time.Since(s.startTime),
		ShutDown:      s.isShutDown.Load(),
		Tensors:       tensors,
		PushRequests:  s.pushRequests.Load(),
		PullRequests:  s.pullRequests.Load(),
		RowsPushed:    s.rowsPushed.Load(),
		RowsPulled:    s.rowsPulled.Load(),
		BytesReceived: s.bytesReceived.Load(),
		BytesSent:     s.bytesSent.Load(),
	}
}

func rowShapeInts(rowShape []int32) []int {
	out := make([]int, len(rowShape))
	for i, d := range rowShape {
		out[i] = int(d)
	}
	return out
}

// encodeRows lays out float32 rows in the little-endian wire format of tensor.Dense
func encodeRows(values []float32, numRows int, rowShape []int32) ([]byte, error) {
	t, err := tensor.FromFloat32(values, append([]int{numRows}, rowShapeInts(rowShape)...)...)
	if err != nil {
		return nil, err
	}
	return t.Bytes(), nil
}

// decodeRows reverses encodeRows
func decodeRows(raw []byte, numRows int, rowShape []int32) ([]float32, error) {
	t, err := tensor.New(tensor.Float32, raw, append([]int{numRows}, rowShapeInts(rowShape)...)...)
	if err != nil {
		return nil, err
	}
	return t.Float32s()
}
