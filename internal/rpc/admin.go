package rpc

import (
	"context"

	"github.com/go-sif/sifgraph/stats"
	"google.golang.org/grpc"
)

// Administrative method names
const (
	LifecycleStopMethod      = "/sifgraph.Lifecycle/Stop"
	LogMethod                = "/sifgraph.Log/Log"
	StatsGetStatisticsMethod = "/sifgraph.Stats/GetStatistics"
)

// LifecycleServer stops a node
type LifecycleServer interface {
	Stop(context.Context, *MStopRequest) (*MStopResponse, error)
}

// LifecycleServiceDesc describes the Lifecycle service
var LifecycleServiceDesc = grpc.ServiceDesc{
	ServiceName: "sifgraph.Lifecycle",
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stop", Handler: unaryHandler(LifecycleStopMethod, LifecycleServer.Stop)},
	},
	Metadata: "sifgraph/lifecycle",
}

// RegisterLifecycleServer attaches a LifecycleServer to s
func RegisterLifecycleServer(s grpc.ServiceRegistrar, srv LifecycleServer) {
	s.RegisterService(&LifecycleServiceDesc, srv)
}

// LifecycleClient is the client API of the Lifecycle service
type LifecycleClient interface {
	Stop(ctx context.Context, in *MStopRequest, opts ...grpc.CallOption) (*MStopResponse, error)
}

type lifecycleClient struct {
	cc grpc.ClientConnInterface
}

// NewLifecycleClient creates a LifecycleClient on cc
func NewLifecycleClient(cc grpc.ClientConnInterface) LifecycleClient {
	return &lifecycleClient{cc}
}

func (c *lifecycleClient) Stop(ctx context.Context, in *MStopRequest, opts ...grpc.CallOption) (*MStopResponse, error) {
	return invoke[MStopResponse](ctx, c.cc, LifecycleStopMethod, in, opts)
}

// LogServer ingests streams of forwarded log messages
type LogServer interface {
	Log(grpc.ClientStreamingServer[MLogMsg, MLogMsgAck]) error
}

func logHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LogServer).Log(&grpc.GenericServerStream[MLogMsg, MLogMsgAck]{ServerStream: stream})
}

// LogServiceDesc describes the Log service
var LogServiceDesc = grpc.ServiceDesc{
	ServiceName: "sifgraph.Log",
	HandlerType: (*LogServer)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: "Log", Handler: logHandler, ClientStreams: true},
	},
	Metadata: "sifgraph/log",
}

// RegisterLogServer attaches a LogServer to s
func RegisterLogServer(s grpc.ServiceRegistrar, srv LogServer) {
	s.RegisterService(&LogServiceDesc, srv)
}

// LogClient is the client API of the Log service
type LogClient interface {
	Log(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[MLogMsg, MLogMsgAck], error)
}

type logClient struct {
	cc grpc.ClientConnInterface
}

// NewLogClient creates a LogClient on cc
func NewLogClient(cc grpc.ClientConnInterface) LogClient {
	return &logClient{cc}
}

func (c *logClient) Log(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[MLogMsg, MLogMsgAck], error) {
	stream, err := c.cc.NewStream(ctx, &LogServiceDesc.Streams[0], LogMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[MLogMsg, MLogMsgAck]{ClientStream: stream}, nil
}

// StatsServer reports the statistics of a node
type StatsServer interface {
	GetStatistics(context.Context, *MStatisticsRequest) (*stats.ServerStatistics, error)
}

// StatsServiceDesc describes the Stats service
var StatsServiceDesc = grpc.ServiceDesc{
	ServiceName: "sifgraph.Stats",
	HandlerType: (*StatsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatistics", Handler: unaryHandler(StatsGetStatisticsMethod, StatsServer.GetStatistics)},
	},
	Metadata: "sifgraph/stats",
}

// RegisterStatsServer attaches a StatsServer to s
func RegisterStatsServer(s grpc.ServiceRegistrar, srv StatsServer) {
	s.RegisterService(&StatsServiceDesc, srv)
}

// StatsClient is the client API of the Stats service
type StatsClient interface {
	GetStatistics(ctx context.Context, in *MStatisticsRequest, opts ...grpc.CallOption) (*stats.ServerStatistics, error)
}

type statsClient struct {
	cc grpc.ClientConnInterface
}

// NewStatsClient creates a StatsClient on cc
func NewStatsClient(cc grpc.ClientConnInterface) StatsClient {
	return &statsClient{cc}
}

func (c *statsClient) GetStatistics(ctx context.Context, in *MStatisticsRequest, opts ...grpc.CallOption) (*stats.ServerStatistics, error) {
	return invoke[stats.ServerStatistics](ctx, c.cc, StatsGetStatisticsMethod, in, opts)
}
