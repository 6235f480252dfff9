package cluster

import (
	"context"

	"github.com/go-sif/sifgraph/internal/rpc"
)

type lifecycleServer struct {
	node *server
}

// createLifecycleServer creates a new lifecycleServer
func createLifecycleServer(node *server) *lifecycleServer {
	return &lifecycleServer{node: node}
}

func (s *lifecycleServer) Stop(ctx context.Context, req *rpc.MStopRequest) (*rpc.MStopResponse, error) {
	s.node.logger.Info("Received request to shut down...")
	s.node.shutDown()
	return &rpc.MStopResponse{}, nil
}
