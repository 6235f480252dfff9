package cluster

import (
	"context"
	"sync"

	"github.com/go-sif/sifgraph/internal/rpc"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type registryServer struct {
	logger     logrus.FieldLogger
	numClients int
	numServers int

	lock     sync.Mutex
	sessions map[string]int32
	books    map[string]*rpc.MPartitionBook
	// barrier state. ch is closed, and replaced, each time every client has arrived
	arrived    int
	generation int64
	ch         chan struct{}
}

// createRegistryServer creates a new registry server
func createRegistryServer(numClients int, numServers int, logger logrus.FieldLogger) *registryServer {
	return &registryServer{
		logger:     logger,
		numClients: numClients,
		numServers: numServers,
		sessions:   make(map[string]int32),
		books:      make(map[string]*rpc.MPartitionBook),
		ch:         make(chan struct{}),
	}
}

// RegisterClient assigns the next client id. Retried registrations of the same session
// receive the id assigned the first time.
func (s *registryServer) RegisterClient(ctx context.Context, req *rpc.MRegisterClientRequest) (*rpc.MRegisterClientResponse, error) {
	if len(req.SessionID) == 0 {
		return nil, status.Error(codes.InvalidArgument, "a session id is required to register")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	id, exists := s.sessions[req.SessionID]
	if !exists {
		if len(s.sessions) >= s.numClients {
			return nil, status.Errorf(codes.ResourceExhausted, "all %d clients have already registered", s.numClients)
		}
		id = int32(len(s.sessions))
		s.sessions[req.SessionID] = id
		s.logger.Infof("Registered client %d from %s", id, req.Host)
	}
	return &rpc.MRegisterClientResponse{ClientID: id, NumClients: int32(s.numClients)}, nil
}

// SetPartitionBook publishes a book. The first book published for a name wins. Publishing an
// identical book again succeeds, and publishing a different one fails with AlreadyExists.
func (s *registryServer) SetPartitionBook(ctx context.Context, req *rpc.MSetPartitionBookRequest) (*rpc.MSetPartitionBookResponse, error) {
	if req.Book == nil {
		return nil, status.Error(codes.InvalidArgument, "partition book is required")
	}
	if int(req.Book.NumPartitions) != s.numServers {
		return nil, status.Errorf(codes.InvalidArgument, "partition book for %q has %d partitions, but there are %d servers", req.Name, req.Book.NumPartitions, s.numServers)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if existing, ok := s.books[req.Name]; ok {
		if existing.Fingerprint != req.Book.Fingerprint {
			return nil, status.Errorf(codes.AlreadyExists, "a different partition book is already published for %q", req.Name)
		}
		return &rpc.MSetPartitionBookResponse{Published: false}, nil
	}
	s.books[req.Name] = req.Book
	s.logger.Infof("Published %s partition book for %q over %d keys", req.Book.Kind, req.Name, req.Book.NumKeys)
	return &rpc.MSetPartitionBookResponse{Published: true}, nil
}

// GetPartitionBook returns the book published for a name, if any
func (s *registryServer) GetPartitionBook(ctx context.Context, req *rpc.MGetPartitionBookRequest) (*rpc.MGetPartitionBookResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return &rpc.MGetPartitionBookResponse{Book: s.books[req.Name]}, nil
}

// Barrier blocks until every client has entered the barrier, or ctx is done
func (s *registryServer) Barrier(ctx context.Context, req *rpc.MBarrierRequest) (*rpc.MBarrierResponse, error) {
	s.lock.Lock()
	gen := s.generation
	ch := s.ch
	s.arrived++
	if s.arrived >= s.numClients {
		s.arrived = 0
		s.generation++
		s.ch = make(chan struct{})
		close(ch)
		s.lock.Unlock()
		return &rpc.MBarrierResponse{Generation: gen}, nil
	}
	s.lock.Unlock()
	select {
	case <-ch:
		return &rpc.MBarrierResponse{Generation: gen}, nil
	case <-ctx.Done():
		s.lock.Lock()
		if s.generation == gen {
			s.arrived--
		}
		s.lock.Unlock()
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}
