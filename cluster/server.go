package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-sif/sifgraph/internal/metrics"
	"github.com/go-sif/sifgraph/internal/rpc"
	"github.com/go-sif/sifgraph/stats"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// server is a Node which stores the rows it owns, and has lifecycle methods
type server struct {
	opts          *NodeOptions
	role          NodeRole
	addrs         []string
	logger        logrus.FieldLogger
	kv            *kvServer
	lifecycleLock sync.Mutex
	grpcServer    *grpc.Server
	stopped       bool
	services      []func(grpc.ServiceRegistrar)
}

func newServer(role NodeRole, opts *NodeOptions) (*server, error) {
	// default certain options if not supplied
	if err := ensureDefaultNodeOptionsValues(opts); err != nil {
		return nil, err
	}
	addrs, err := ReadRendezvousFile(opts.RendezvousFile)
	if err != nil {
		return nil, err
	}
	if opts.Rank >= len(addrs) {
		return nil, fmt.Errorf("rank %d has no entry in rendezvous file %s (%d servers)", opts.Rank, opts.RendezvousFile, len(addrs))
	}
	logger := opts.Logger.WithFields(logrus.Fields{"role": role, "rank": opts.Rank})
	s := &server{
		opts:   opts,
		role:   role,
		addrs:  addrs,
		logger: logger,
		kv:     createKVServer(opts.Rank, opts, logger),
	}
	s.services = []func(grpc.ServiceRegistrar){
		func(r grpc.ServiceRegistrar) { rpc.RegisterKVServer(r, s.kv) },
		func(r grpc.ServiceRegistrar) { rpc.RegisterLifecycleServer(r, createLifecycleServer(s)) },
		func(r grpc.ServiceRegistrar) { rpc.RegisterStatsServer(r, createStatsProvider(s.kv)) },
	}
	return s, nil
}

func createServer(opts *NodeOptions) (*server, error) {
	if opts.Rank == 0 {
		return nil, fmt.Errorf("rank 0 is reserved for the %s", Coordinator)
	}
	return newServer(Server, opts)
}

// IsCoordinator returns false for servers
func (s *server) IsCoordinator() bool {
	return false
}

// Rank returns the position of this server in the rendezvous file
func (s *server) Rank() int {
	return s.opts.Rank
}

// Start the server - blocking unless run in a goroutine
func (s *server) Start() error {
	addr, err := s.opts.bindAddress(s.addrs[s.opts.Rank])
	if err != nil {
		return fmt.Errorf("invalid rendezvous entry %q: %w", s.addrs[s.opts.Rank], err)
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve requests on lis - blocking unless run in a goroutine
func (s *server) Serve(lis net.Listener) error {
	s.lifecycleLock.Lock()
	if s.stopped {
		s.lifecycleLock.Unlock()
		return lis.Close()
	}
	if s.grpcServer != nil {
		s.lifecycleLock.Unlock()
		lis.Close()
		return fmt.Errorf("%s %d is already serving", s.role, s.opts.Rank)
	}
	s.grpcServer = rpc.NewServer(
		grpc.MaxRecvMsgSize(s.opts.MaxMessageSize),
		grpc.ChainUnaryInterceptor(countRequests),
		grpc.ChainStreamInterceptor(countStreams),
	)
	srv := s.grpcServer
	// register rpc handlers
	for _, register := range s.services {
		register(srv)
	}
	s.lifecycleLock.Unlock()
	s.logger.Infof("Starting sifgraph %s at %s", s.role, lis.Addr())
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// GracefulStop the server, waiting for RPCs to finish
func (s *server) GracefulStop() error {
	s.lifecycleLock.Lock()
	s.stopped = true
	srv := s.grpcServer
	s.lifecycleLock.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	return nil
}

// Stop the server immediately
func (s *server) Stop() error {
	s.lifecycleLock.Lock()
	s.stopped = true
	srv := s.grpcServer
	s.lifecycleLock.Unlock()
	if srv != nil {
		srv.Stop()
	}
	return nil
}

// Run blocks until a client shuts the cluster down, or ctx is done
func (s *server) Run(ctx context.Context) error {
	select {
	case <-s.kv.shutDownCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Statistics returns a snapshot of the work performed by this server
func (s *server) Statistics() *stats.ServerStatistics {
	return s.kv.statistics()
}

// shutDown rejects further data operations, and stops serving if configured to
func (s *server) shutDown() {
	if s.kv.shutDown() && s.opts.StopOnShutDown {
		// we can't wait for the stop, because the shutdown request counts as an open RPC
		go s.GracefulStop()
	}
}

func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}

func countRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	res, err := handler(ctx, req)
	metrics.KVRequests.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
	return res, err
}

func countStreams(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	err := handler(srv, ss)
	metrics.KVRequests.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
	return err
}

// requestTimer observes the duration of a client-side operation when stopped
func requestTimer(op string) func() {
	start := time.Now()
	return func() {
		metrics.KVRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
