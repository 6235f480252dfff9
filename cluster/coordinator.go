package cluster

import (
	"fmt"

	"github.com/go-sif/sifgraph/internal/rpc"
	"google.golang.org/grpc"
)

// coordinator is the rank 0 server, which also hosts the registry and collects client logs
type coordinator struct {
	*server
	registry *registryServer
}

func createCoordinator(opts *NodeOptions) (*coordinator, error) {
	if opts.Rank != 0 {
		return nil, fmt.Errorf("the %s must be rank 0, not %d", Coordinator, opts.Rank)
	}
	s, err := newServer(Coordinator, opts)
	if err != nil {
		return nil, err
	}
	c := &coordinator{
		server:   s,
		registry: createRegistryServer(opts.NumClients, len(s.addrs), s.logger),
	}
	c.services = append(c.services,
		func(r grpc.ServiceRegistrar) { rpc.RegisterRegistryServer(r, c.registry) },
		func(r grpc.ServiceRegistrar) { rpc.RegisterLogServer(r, createLogServer(s.logger)) },
	)
	return c, nil
}

// IsCoordinator returns true for coordinators
func (c *coordinator) IsCoordinator() bool {
	return true
}
