package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Registry method names
const (
	RegistryRegisterClientMethod   = "/sifgraph.Registry/RegisterClient"
	RegistrySetPartitionBookMethod = "/sifgraph.Registry/SetPartitionBook"
	RegistryGetPartitionBookMethod = "/sifgraph.Registry/GetPartitionBook"
	RegistryBarrierMethod          = "/sifgraph.Registry/Barrier"
)

// RegistryServer is served by the coordinator, and tracks clients, partition books and barriers
type RegistryServer interface {
	RegisterClient(context.Context, *MRegisterClientRequest) (*MRegisterClientResponse, error)
	SetPartitionBook(context.Context, *MSetPartitionBookRequest) (*MSetPartitionBookResponse, error)
	GetPartitionBook(context.Context, *MGetPartitionBookRequest) (*MGetPartitionBookResponse, error)
	Barrier(context.Context, *MBarrierRequest) (*MBarrierResponse, error)
}

// RegistryServiceDesc describes the Registry service
var RegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: "sifgraph.Registry",
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterClient", Handler: unaryHandler(RegistryRegisterClientMethod, RegistryServer.RegisterClient)},
		{MethodName: "SetPartitionBook", Handler: unaryHandler(RegistrySetPartitionBookMethod, RegistryServer.SetPartitionBook)},
		{MethodName: "GetPartitionBook", Handler: unaryHandler(RegistryGetPartitionBookMethod, RegistryServer.GetPartitionBook)},
		{MethodName: "Barrier", Handler: unaryHandler(RegistryBarrierMethod, RegistryServer.Barrier)},
	},
	Metadata: "sifgraph/registry",
}

// RegisterRegistryServer attaches a RegistryServer to s
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&RegistryServiceDesc, srv)
}

// RegistryClient is the client API of the Registry service
type RegistryClient interface {
	RegisterClient(ctx context.Context, in *MRegisterClientRequest, opts ...grpc.CallOption) (*MRegisterClientResponse, error)
	SetPartitionBook(ctx context.Context, in *MSetPartitionBookRequest, opts ...grpc.CallOption) (*MSetPartitionBookResponse, error)
	GetPartitionBook(ctx context.Context, in *MGetPartitionBookRequest, opts ...grpc.CallOption) (*MGetPartitionBookResponse, error)
	Barrier(ctx context.Context, in *MBarrierRequest, opts ...grpc.CallOption) (*MBarrierResponse, error)
}

type registryClient struct {
	cc grpc.ClientConnInterface
}

// NewRegistryClient creates a RegistryClient on cc
func NewRegistryClient(cc grpc.ClientConnInterface) RegistryClient {
	return &registryClient{cc}
}

func (c *registryClient) RegisterClient(ctx context.Context, in *MRegisterClientRequest, opts ...grpc.CallOption) (*MRegisterClientResponse, error) {
	return invoke[MRegisterClientResponse](ctx, c.cc, RegistryRegisterClientMethod, in, opts)
}

func (c *registryClient) SetPartitionBook(ctx context.Context, in *MSetPartitionBookRequest, opts ...grpc.CallOption) (*MSetPartitionBookResponse, error) {
	return invoke[MSetPartitionBookResponse](ctx, c.cc, RegistrySetPartitionBookMethod, in, opts)
}

func (c *registryClient) GetPartitionBook(ctx context.Context, in *MGetPartitionBookRequest, opts ...grpc.CallOption) (*MGetPartitionBookResponse, error) {
	return invoke[MGetPartitionBookResponse](ctx, c.cc, RegistryGetPartitionBookMethod, in, opts)
}

func (c *registryClient) Barrier(ctx context.Context, in *MBarrierRequest, opts ...grpc.CallOption) (*MBarrierResponse, error) {
	return invoke[MBarrierResponse](ctx, c.cc, RegistryBarrierMethod, in, opts)
}
