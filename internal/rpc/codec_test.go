package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	require.NotNil(t, codec)

	in := &MSetPartitionBookRequest{Name: "emb", Book: &MPartitionBook{Kind: BookRange, NumKeys: 8, NumPartitions: 2, Bounds: []int64{4, 8}, Fingerprint: 42}}
	data, err := codec.Marshal(in)
	require.NoError(t, err)
	out := &MSetPartitionBookRequest{}
	require.NoError(t, codec.Unmarshal(data, out))
	require.Equal(t, in, out)
}

type fakeRegistry struct {
	RegistryServer
	barriers int
}

func (f *fakeRegistry) Barrier(ctx context.Context, req *MBarrierRequest) (*MBarrierResponse, error) {
	f.barriers++
	return &MBarrierResponse{Generation: int64(req.ClientID)}, nil
}

func TestUnaryHandler(t *testing.T) {
	srv := &fakeRegistry{}
	handler := unaryHandler(RegistryBarrierMethod, RegistryServer.Barrier)
	dec := func(v any) error {
		v.(*MBarrierRequest).ClientID = 3
		return nil
	}
	res, err := handler(srv, context.Background(), dec, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, res.(*MBarrierResponse).Generation)

	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}
	_, err = handler(srv, context.Background(), dec, interceptor)
	require.NoError(t, err)
	require.Equal(t, RegistryBarrierMethod, seen)
	require.Equal(t, 2, srv.barriers)
}
