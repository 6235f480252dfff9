package cluster

import (
	"io"
	"time"

	"github.com/go-sif/sifgraph/internal/rpc"
	"github.com/go-sif/sifgraph/logging"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

type logServer struct {
	logger logrus.FieldLogger
}

// createLogServer creates a log server
func createLogServer(logger logrus.FieldLogger) *logServer {
	return &logServer{logger: logger}
}

// Log messages coming from clients to the coordinator's logger
func (s *logServer) Log(stream grpc.ClientStreamingServer[rpc.MLogMsg, rpc.MLogMsgAck]) error {
	var count int64
	for {
		message, err := stream.Recv()
		if err == io.EOF {
			// Then we're out of messages to print and no errors have occurred, so Ack
			return stream.SendAndClose(&rpc.MLogMsgAck{Time: time.Now().Unix(), Count: count})
		} else if err != nil {
			return err
		}
		count++
		s.logger.WithField("source", message.Source).Log(logging.ToLogrus(int(message.Level)), message.Message)
	}
}
