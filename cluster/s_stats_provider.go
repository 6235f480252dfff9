package cluster

import (
	"context"

	"github.com/go-sif/sifgraph/internal/rpc"
	"github.com/go-sif/sifgraph/stats"
)

type statsProviderServer struct {
	kv *kvServer
}

// createStatsProvider creates a new stats provider server
func createStatsProvider(kv *kvServer) *statsProviderServer {
	return &statsProviderServer{kv: kv}
}

func (s *statsProviderServer) GetStatistics(context.Context, *rpc.MStatisticsRequest) (*stats.ServerStatistics, error) {
	return s.kv.statistics(), nil
}
