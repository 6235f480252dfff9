package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/internal/rpc"
	iutil "github.com/go-sif/sifgraph/internal/util"
	"github.com/go-sif/sifgraph/logging"
	"github.com/go-sif/sifgraph/stats"
	"github.com/go-sif/sifgraph/tensor"
	uuid "github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClientOptions configure a Client of a sifgraph key-value cluster
type ClientOptions struct {
	RendezvousFile       string         // [REQUIRED] file listing the address of every server, in rank order
	ClientsPerMachine    int            // the number of clients sharing a machine, used by IsPublisher
	JoinRetries          int            // how many times a Client should retry registering with the Coordinator (at one second intervals)
	RPCTimeout           time.Duration  // timeout for each request to a single server
	BarrierTimeout       time.Duration  // how long to wait for every client to reach a barrier. 0 waits forever.
	BookPollInterval     time.Duration  // how often to check for a partition book published by another client
	Compression          Compression    // compression for pushed rows
	CompressionThreshold int            // payloads smaller than this many bytes are sent uncompressed
	PullChunkRows        int            // rows per chunk streamed back by a pull
	ForwardLogs          bool           // iff true, forward Logger's messages to the Coordinator
	ForwardLevel         int            // the minimum level of forwarded messages
	Logger               *logrus.Logger // defaults to the standard logger
}

func ensureDefaultClientOptionsValues(opts *ClientOptions) error {
	if len(opts.RendezvousFile) == 0 {
		return fmt.Errorf("ClientOptions.RendezvousFile must name the file listing every server")
	}
	if opts.ClientsPerMachine == 0 {
		opts.ClientsPerMachine = 1
	}
	if opts.JoinRetries == 0 {
		opts.JoinRetries = 5
	}
	if opts.RPCTimeout == 0 {
		opts.RPCTimeout = 30 * time.Second
	}
	if opts.BookPollInterval == 0 {
		opts.BookPollInterval = 100 * time.Millisecond
	}
	if len(opts.Compression) == 0 {
		opts.Compression = CompressionLZ4
	}
	if opts.CompressionThreshold == 0 {
		opts.CompressionThreshold = 4096
	}
	if opts.PullChunkRows == 0 {
		opts.PullChunkRows = 4096
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return nil
}

// Handler determines how pushed rows are combined with stored rows
type Handler string

const (
	// AssignHandler overwrites stored rows
	AssignHandler Handler = rpc.HandlerAssign
	// AddHandler accumulates pushed rows into stored rows
	AddHandler Handler = rpc.HandlerAdd
)

// Initializer fills rows allocated by InitData
type Initializer struct {
	kind      string
	low, high float32
	seed      uint64
}

// ZeroInit fills rows with zeros
var ZeroInit = Initializer{kind: rpc.InitZero}

// UniformInit fills rows with values drawn uniformly from [low, high). Each server draws from
// its own stream, derived from seed and its rank.
func UniformInit(low float32, high float32, seed uint64) Initializer {
	return Initializer{kind: rpc.InitUniform, low: low, high: high, seed: seed}
}

type clientState int

const (
	clientConnected clientState = iota
	clientShutDown
	clientClosed
)

// Client pushes and pulls the rows of named tensors to and from a sifgraph key-value cluster.
// Each tensor must be given a PartitionBook with SetPartitionBook before it is used. A Client is
// safe for concurrent use.
type Client struct {
	opts       *ClientOptions
	logger     logrus.FieldLogger
	sessionID  string
	addrs      []string
	conns      []*grpc.ClientConn
	kv         []rpc.KVClient
	lifecycle  []rpc.LifecycleClient
	stats      []rpc.StatsClient
	registry   rpc.RegistryClient
	codec      byte
	id         int
	numClients int
	hook       *logging.ForwardingHook
	forwarder  *logForwarder

	lock      sync.RWMutex
	state     clientState
	books     map[string]PartitionBook
	rowShapes map[string][]int
}

// Connect dials every server listed in the rendezvous file, and registers with the Coordinator
func Connect(ctx context.Context, opts *ClientOptions) (*Client, error) {
	if err := ensureDefaultClientOptionsValues(opts); err != nil {
		return nil, err
	}
	codec, err := opts.Compression.codec()
	if err != nil {
		return nil, err
	}
	addrs, err := ReadRendezvousFile(opts.RendezvousFile)
	if err != nil {
		return nil, err
	}
	session, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	c := &Client{
		opts:      opts,
		logger:    opts.Logger.WithField("session", session.String()),
		sessionID: session.String(),
		addrs:     addrs,
		codec:     codec,
		books:     make(map[string]PartitionBook),
		rowShapes: make(map[string][]int),
	}
	for _, addr := range addrs {
		conn, err := rpc.Dial(addr)
		if err != nil {
			c.closeConnections()
			return nil, fmt.Errorf("fail to dial %s: %w", addr, err)
		}
		c.conns = append(c.conns, conn)
		c.kv = append(c.kv, rpc.NewKVClient(conn))
		c.lifecycle = append(c.lifecycle, rpc.NewLifecycleClient(conn))
		c.stats = append(c.stats, rpc.NewStatsClient(conn))
	}
	c.registry = rpc.NewRegistryClient(c.conns[0])
	if err := c.registerWithCoordinator(ctx); err != nil {
		c.closeConnections()
		return nil, err
	}
	c.logger = c.logger.WithField("client", c.id)
	if opts.ForwardLogs {
		c.forwarder = &logForwarder{client: rpc.NewLogClient(c.conns[0])}
		hostname, _ := os.Hostname()
		c.hook = logging.NewForwardingHook(fmt.Sprintf("client %d (%s)", c.id, hostname), opts.ForwardLevel, c.forwarder)
		opts.Logger.AddHook(c.hook)
	}
	c.logger.Infof("Connected to %d servers as client %d of %d", len(addrs), c.id, c.numClients)
	return c, nil
}

// registerWithCoordinator retries registration until the Coordinator is reachable
func (c *Client) registerWithCoordinator(ctx context.Context) error {
	hostname, _ := os.Hostname()
	req := &rpc.MRegisterClientRequest{SessionID: c.sessionID, Host: hostname}
	var err error
	for retries := 0; retries < c.opts.JoinRetries; retries++ {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
		var res *rpc.MRegisterClientResponse
		res, err = c.registry.RegisterClient(rctx, req)
		cancel()
		if err == nil {
			c.id = int(res.ClientID)
			c.numClients = int(res.NumClients)
			return nil
		}
		if code := status.Code(err); code == codes.ResourceExhausted || code == codes.InvalidArgument {
			break
		}
		c.logger.Debugf("Registration attempt %d failed: %v", retries+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			// Wait 1 second and try again (iterate)
		}
	}
	return errors.TransportError{Op: "register", Rank: 0, Err: err}
}

// ID returns the id the Coordinator assigned to this Client
func (c *Client) ID() int {
	return c.id
}

// NumClients returns the number of clients in the cluster
func (c *Client) NumClients() int {
	return c.numClients
}

// NumServers returns the number of servers in the cluster
func (c *Client) NumServers() int {
	return len(c.addrs)
}

// IsPublisher suggests whether this Client should publish partition books and initialize data on
// behalf of the clients on its machine. The registry accepts only the first published book
// regardless.
func (c *Client) IsPublisher() bool {
	return c.id%c.opts.ClientsPerMachine == 0
}

// PartitionBook returns the book set for a tensor
func (c *Client) PartitionBook(name string) (PartitionBook, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	book, ok := c.books[name]
	return book, ok
}

func (c *Client) checkState(op string) error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	switch c.state {
	case clientShutDown:
		return errors.ShutDownError{}
	case clientClosed:
		return errors.StateError{Op: op, State: "the client is closed"}
	}
	return nil
}

func (c *Client) bookFor(op string, name string) (PartitionBook, error) {
	if err := c.checkState(op); err != nil {
		return nil, err
	}
	book, ok := c.PartitionBook(name)
	if !ok {
		return nil, errors.StateError{Op: op, State: fmt.Sprintf("no partition book is set for %q", name)}
	}
	return book, nil
}

// transportError wraps a failed request to a server. Requests rejected by a shut down server
// wrap a ShutDownError.
func transportError(op string, rank int, err error) error {
	st := status.Convert(err)
	switch st.Code() {
	case codes.FailedPrecondition:
		if st.Message() == shutDownMessage {
			err = errors.ShutDownError{}
		} else {
			err = errors.StateError{Op: op, State: st.Message()}
		}
	case codes.DeadlineExceeded:
		err = errors.TimeoutError{Op: op}
	}
	return errors.TransportError{Op: op, Rank: rank, Err: err}
}

// SetPartitionBook sets the PartitionBook of a tensor. A non-nil book is published to the
// registry, where the first book published for a name wins: publishing an identical book again
// succeeds, and publishing a different one fails with a PartitionBookConflictError. A nil book
// waits for another client to publish one, until ctx is done.
func (c *Client) SetPartitionBook(ctx context.Context, name string, book PartitionBook) error {
	if err := c.checkState("set a partition book"); err != nil {
		return err
	}
	if book == nil {
		fetched, err := c.awaitPartitionBook(ctx, name)
		if err != nil {
			return err
		}
		book = fetched
	} else {
		if book.NumPartitions() != len(c.addrs) {
			return errors.ShapeError{
				What:     fmt.Sprintf("partition book for %q", name),
				Expected: fmt.Sprintf("%d partitions", len(c.addrs)),
				Actual:   fmt.Sprintf("%d partitions", book.NumPartitions()),
			}
		}
		rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
		res, err := c.registry.SetPartitionBook(rctx, &rpc.MSetPartitionBookRequest{Name: name, Book: book.toMessage()})
		if status.Code(err) == codes.AlreadyExists {
			return errors.PartitionBookConflictError{Name: name}
		} else if err != nil {
			return transportError("set partition book", 0, err)
		}
		if res.Published {
			c.logger.Infof("Published partition book for %q", name)
		}
	}
	c.lock.Lock()
	c.books[name] = book
	c.lock.Unlock()
	return nil
}

func (c *Client) awaitPartitionBook(ctx context.Context, name string) (PartitionBook, error) {
	for {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
		res, err := c.registry.GetPartitionBook(rctx, &rpc.MGetPartitionBookRequest{Name: name})
		cancel()
		if err != nil {
			return nil, transportError("get partition book", 0, err)
		}
		if res.Book != nil {
			book, err := partitionBookFromMessage(res.Book)
			if err != nil {
				return nil, err
			}
			if book.NumPartitions() != len(c.addrs) {
				return nil, errors.ShapeError{
					What:     fmt.Sprintf("partition book for %q", name),
					Expected: fmt.Sprintf("%d partitions", len(c.addrs)),
					Actual:   fmt.Sprintf("%d partitions", book.NumPartitions()),
				}
			}
			return book, nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, errors.TimeoutError{Op: fmt.Sprintf("the partition book of %q", name)}
			}
			return nil, ctx.Err()
		case <-time.After(c.opts.BookPollInterval):
		}
	}
}

// InitData allocates every row of a tensor on the servers which own them, filled by init. Pushes
// to the tensor are then combined with stored rows by handler. Rows which were pushed before
// keep their values. Initializing a tensor again with the same row shape, init and handler has
// no effect, while initializing it differently fails with a StateError.
func (c *Client) InitData(ctx context.Context, name string, rowShape []int, init Initializer, handler Handler) error {
	book, err := c.bookFor("initialize data", name)
	if err != nil {
		return err
	}
	if len(handler) == 0 {
		handler = AssignHandler
	}
	shape := make([]int32, len(rowShape))
	for i, d := range rowShape {
		if d <= 0 {
			return errors.ShapeError{What: fmt.Sprintf("row shape of %q", name), Expected: "positive dimensions", Actual: fmt.Sprint(rowShape)}
		}
		shape[i] = int32(d)
	}
	var wg sync.WaitGroup
	asyncErrors := iutil.CreateAsyncErrorChannel()
	wg.Add(len(c.addrs))
	for rank := range c.addrs {
		req := &rpc.MInitDataRequest{
			Name:     name,
			RowShape: shape,
			IDs:      book.OwnedIDs(rank),
			Init:     init.kind,
			Low:      init.low,
			High:     init.high,
			Handler:  string(handler),
			Seed:     init.seed,
		}
		go func(rank int) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
			defer cancel()
			if _, err := c.kv[rank].InitData(rctx, req); err != nil {
				asyncErrors <- transportError("init data", rank, err)
			}
		}(rank)
	}
	if err := iutil.WaitAndFetchError(&wg, asyncErrors); err != nil {
		return err
	}
	c.rememberRowShape(name, rowShape)
	return nil
}

func (c *Client) rememberRowShape(name string, rowShape []int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rowShapes[name] = append([]int(nil), rowShape...)
}

// route groups the positions of ids by owning rank
func (c *Client) route(name string, book PartitionBook, ids []int64) ([][]int64, [][]int, error) {
	rankIDs := make([][]int64, len(c.addrs))
	positions := make([][]int, len(c.addrs))
	for i, id := range ids {
		rank, err := book.Partition(id)
		if err != nil {
			return nil, nil, errors.RoutingError{Name: name, ID: id}
		}
		rankIDs[rank] = append(rankIDs[rank], id)
		positions[rank] = append(positions[rank], i)
	}
	return rankIDs, positions, nil
}

// Push writes rows of a tensor. data must hold one float32 row per id.
func (c *Client) Push(ctx context.Context, name string, ids []int64, data tensor.Tensor) error {
	defer requestTimer("push")()
	book, err := c.bookFor("push", name)
	if err != nil {
		return err
	}
	if data.DType() != tensor.Float32 {
		return errors.ShapeError{What: fmt.Sprintf("rows pushed to %q", name), Expected: "float32 rows", Actual: data.DType().String() + " rows"}
	}
	if data.NumRows() != len(ids) {
		return errors.ShapeError{
			What:     fmt.Sprintf("rows pushed to %q", name),
			Expected: fmt.Sprintf("%d rows", len(ids)),
			Actual:   fmt.Sprintf("%d rows", data.NumRows()),
		}
	}
	rankIDs, positions, err := c.route(name, book, ids)
	if err != nil {
		return err
	}
	rowShape := data.Shape()[1:]
	shape := make([]int32, len(rowShape))
	for i, d := range rowShape {
		shape[i] = int32(d)
	}
	rowBytes := data.RowBytes()
	src := data.Bytes()
	var wg sync.WaitGroup
	asyncErrors := iutil.CreateAsyncErrorChannel()
	for rank := range rankIDs {
		if len(rankIDs[rank]) == 0 {
			continue
		}
		raw := make([]byte, 0, len(positions[rank])*rowBytes)
		for _, p := range positions[rank] {
			raw = append(raw, src[p*rowBytes:(p+1)*rowBytes]...)
		}
		wg.Add(1)
		go func(rank int, raw []byte) {
			defer wg.Done()
			codec, payload, err := encodePayload(raw, c.codec, c.opts.CompressionThreshold)
			if err != nil {
				asyncErrors <- err
				return
			}
			req := &rpc.MPushRequest{Name: name, RowShape: shape, IDs: rankIDs[rank], Codec: codec, RawSize: int32(len(raw)), Data: payload}
			rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
			defer cancel()
			if _, err := c.kv[rank].Push(rctx, req); err != nil {
				asyncErrors <- transportError("push", rank, err)
			}
		}(rank, raw)
	}
	if err := iutil.WaitAndFetchError(&wg, asyncErrors); err != nil {
		return err
	}
	c.rememberRowShape(name, rowShape)
	return nil
}

type pulledRows struct {
	rowShape []int
	rows     []byte
}

// Pull reads rows of a tensor, in the order of ids. Reading an id which was never initialized
// or pushed fails with a MissingRowError.
func (c *Client) Pull(ctx context.Context, name string, ids []int64) (tensor.Tensor, error) {
	defer requestTimer("pull")()
	book, err := c.bookFor("pull", name)
	if err != nil {
		return nil, err
	}
	rankIDs, positions, err := c.route(name, book, ids)
	if err != nil {
		return nil, err
	}
	results := make([]pulledRows, len(rankIDs))
	var wg sync.WaitGroup
	asyncErrors := iutil.CreateAsyncErrorChannel()
	for rank := range rankIDs {
		if len(rankIDs[rank]) == 0 {
			continue
		}
		wg.Add(1)
		go c.asyncPull(ctx, name, rank, rankIDs[rank], &results[rank], &wg, asyncErrors)
	}
	if err := iutil.WaitAndFetchError(&wg, asyncErrors); err != nil {
		return nil, err
	}
	var rowShape []int
	for _, r := range results {
		if r.rowShape != nil {
			rowShape = r.rowShape
			break
		}
	}
	if rowShape == nil {
		c.lock.RLock()
		rowShape = c.rowShapes[name]
		c.lock.RUnlock()
	}
	shape := append([]int{len(ids)}, rowShape...)
	out := tensor.Zeros(tensor.Float32, shape...)
	if len(ids) == 0 {
		return out, nil
	}
	rowBytes := out.RowBytes()
	dst := out.Bytes()
	for rank, r := range results {
		for j, p := range positions[rank] {
			copy(dst[p*rowBytes:(p+1)*rowBytes], r.rows[j*rowBytes:(j+1)*rowBytes])
		}
	}
	return out, nil
}

func (c *Client) asyncPull(ctx context.Context, name string, rank int, ids []int64, result *pulledRows, wg *sync.WaitGroup, errs chan<- error) {
	defer wg.Done()
	rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()
	req := &rpc.MPullRequest{Name: name, IDs: ids, ChunkRows: int32(c.opts.PullChunkRows), Codec: c.codec}
	stream, err := c.kv[rank].Pull(rctx, req)
	if err != nil {
		errs <- transportError("pull", rank, err)
		return
	}
	rows := make([]byte, 0)
	received := 0
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			errs <- transportError("pull", rank, err)
			return
		}
		if chunk.HasMissing {
			errs <- errors.MissingRowError{Name: name, ID: chunk.MissingID}
			return
		}
		if int(chunk.Offset) != received {
			errs <- transportError("pull", rank, fmt.Errorf("received rows from offset %d, expected %d", chunk.Offset, received))
			return
		}
		data, err := decodePayload(chunk.Codec, chunk.Data, int(chunk.RawSize))
		if err != nil {
			errs <- transportError("pull", rank, err)
			return
		}
		if result.rowShape == nil {
			result.rowShape = rowShapeInts(chunk.RowShape)
		}
		rows = append(rows, data...)
		received += int(chunk.NumRows)
	}
	if received != len(ids) {
		errs <- transportError("pull", rank, fmt.Errorf("received %d rows, expected %d", received, len(ids)))
		return
	}
	result.rows = rows
}

// Barrier blocks until every client in the cluster has entered the barrier. If BarrierTimeout
// elapses first, Barrier fails with a TimeoutError.
func (c *Client) Barrier(ctx context.Context) error {
	defer requestTimer("barrier")()
	if err := c.checkState("enter a barrier"); err != nil {
		return err
	}
	if c.opts.BarrierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.BarrierTimeout)
		defer cancel()
	}
	_, err := c.registry.Barrier(ctx, &rpc.MBarrierRequest{ClientID: int32(c.id)})
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded || ctx.Err() == context.DeadlineExceeded {
			return errors.TimeoutError{Op: "barrier"}
		}
		return transportError("barrier", 0, err)
	}
	return nil
}

// ServerStats fetches the statistics of every server, in rank order
func (c *Client) ServerStats(ctx context.Context) ([]*stats.ServerStatistics, error) {
	if err := c.checkState("fetch server statistics"); err != nil {
		return nil, err
	}
	res := make([]*stats.ServerStatistics, len(c.addrs))
	for rank := range c.addrs {
		rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
		s, err := c.stats[rank].GetStatistics(rctx, &rpc.MStatisticsRequest{})
		cancel()
		if err != nil {
			return nil, transportError("get statistics", rank, err)
		}
		res[rank] = s
	}
	return res, nil
}

// ShutDown asks every server to stop accepting data requests. The Client cannot be used
// afterwards, and should be closed.
func (c *Client) ShutDown(ctx context.Context) error {
	if err := c.checkState("shut down"); err != nil {
		return err
	}
	c.lock.Lock()
	c.state = clientShutDown
	c.lock.Unlock()
	c.logger.Info("Shutting down servers...")
	var wg sync.WaitGroup
	asyncErrors := iutil.CreateAsyncErrorChannel()
	wg.Add(len(c.addrs))
	for rank := range c.addrs {
		go func(rank int) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
			defer cancel()
			if _, err := c.lifecycle[rank].Stop(rctx, &rpc.MStopRequest{}); err != nil {
				asyncErrors <- errors.TransportError{Op: "shut down", Rank: rank, Err: err}
			}
		}(rank)
	}
	return iutil.WaitAndFetchError(&wg, asyncErrors)
}

// Close releases the connections of this Client, without stopping any server
func (c *Client) Close() error {
	c.lock.Lock()
	if c.state == clientClosed {
		c.lock.Unlock()
		return nil
	}
	c.state = clientClosed
	c.lock.Unlock()
	var err error
	if c.hook != nil {
		c.hook.Detach()
		err = c.forwarder.close()
	}
	c.closeConnections()
	return err
}

func (c *Client) closeConnections() {
	for _, conn := range c.conns {
		conn.Close()
	}
}

// logForwarder streams log messages to the Coordinator's Log service
type logForwarder struct {
	client rpc.LogClient
	lock   sync.Mutex
	cancel context.CancelFunc
	stream grpc.ClientStreamingClient[rpc.MLogMsg, rpc.MLogMsgAck]
}

// SendLog sends a single message, opening the stream on first use
func (f *logForwarder) SendLog(source string, level int, message string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.stream == nil {
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := f.client.Log(ctx)
		if err != nil {
			cancel()
			return err
		}
		f.stream, f.cancel = stream, cancel
	}
	return f.stream.Send(&rpc.MLogMsg{Source: source, Level: int32(level), Message: message})
}

func (f *logForwarder) close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.stream == nil {
		return nil
	}
	defer f.cancel()
	_, err := f.stream.CloseAndRecv()
	f.stream = nil
	if err == io.EOF {
		return nil
	}
	return err
}
