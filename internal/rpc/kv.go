package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// KV method names
const (
	KVInitDataMethod = "/sifgraph.KV/InitData"
	KVPushMethod     = "/sifgraph.KV/Push"
	KVPullMethod     = "/sifgraph.KV/Pull"
)

// KVServer stores the rows of each tensor owned by a server
type KVServer interface {
	InitData(context.Context, *MInitDataRequest) (*MInitDataResponse, error)
	Push(context.Context, *MPushRequest) (*MPushResponse, error)
	Pull(*MPullRequest, grpc.ServerStreamingServer[MPullChunk]) error
}

func kvPullHandler(srv any, stream grpc.ServerStream) error {
	m := new(MPullRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(KVServer).Pull(m, &grpc.GenericServerStream[MPullRequest, MPullChunk]{ServerStream: stream})
}

// KVServiceDesc describes the KV service
var KVServiceDesc = grpc.ServiceDesc{
	ServiceName: "sifgraph.KV",
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitData", Handler: unaryHandler(KVInitDataMethod, KVServer.InitData)},
		{MethodName: "Push", Handler: unaryHandler(KVPushMethod, KVServer.Push)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Pull", Handler: kvPullHandler, ServerStreams: true},
	},
	Metadata: "sifgraph/kv",
}

// RegisterKVServer attaches a KVServer to s
func RegisterKVServer(s grpc.ServiceRegistrar, srv KVServer) {
	s.RegisterService(&KVServiceDesc, srv)
}

// KVClient is the client API of the KV service
type KVClient interface {
	InitData(ctx context.Context, in *MInitDataRequest, opts ...grpc.CallOption) (*MInitDataResponse, error)
	Push(ctx context.Context, in *MPushRequest, opts ...grpc.CallOption) (*MPushResponse, error)
	Pull(ctx context.Context, in *MPullRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MPullChunk], error)
}

type kvClient struct {
	cc grpc.ClientConnInterface
}

// NewKVClient creates a KVClient on cc
func NewKVClient(cc grpc.ClientConnInterface) KVClient {
	return &kvClient{cc}
}

func (c *kvClient) InitData(ctx context.Context, in *MInitDataRequest, opts ...grpc.CallOption) (*MInitDataResponse, error) {
	return invoke[MInitDataResponse](ctx, c.cc, KVInitDataMethod, in, opts)
}

func (c *kvClient) Push(ctx context.Context, in *MPushRequest, opts ...grpc.CallOption) (*MPushResponse, error) {
	return invoke[MPushResponse](ctx, c.cc, KVPushMethod, in, opts)
}

func (c *kvClient) Pull(ctx context.Context, in *MPullRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[MPullChunk], error) {
	stream, err := c.cc.NewStream(ctx, &KVServiceDesc.Streams[0], KVPullMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[MPullRequest, MPullChunk]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
