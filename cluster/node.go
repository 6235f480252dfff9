// Package cluster implements the sifgraph distributed key-value store: the server Nodes which
// hold partitioned rows of named tensors, the Client which routes pushes and pulls to them
// through a PartitionBook, and KVFeature, which exposes a stored tensor as a Feature.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"

	"github.com/go-sif/sifgraph/logging"
	"github.com/go-sif/sifgraph/stats"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// NodeRole describes the intended role of a Node
type NodeRole = string

const (
	// Coordinator indicates that a node should store rows and host the registry of clients,
	// partition books and barriers. The Coordinator is always rank 0.
	//   e.g. CreateNodeInRole(Coordinator, &NodeOptions{...})
	Coordinator NodeRole = "coordinator"
	// Server indicates that a node should only store rows
	//   e.g. CreateNodeInRole(Server, &NodeOptions{...})
	Server NodeRole = "server"
)

// NodeTypeEnvVar names the environment variable CreateNode reads the NodeRole from
const NodeTypeEnvVar = "SIFGRAPH_NODE_TYPE"

// Node is a member of a sifgraph key-value cluster.
// Nodes present several methods to control their lifecycle.
type Node interface {
	IsCoordinator() bool
	Rank() int
	// Start listens on this Node's rendezvous address and serves requests - blocking unless run in a goroutine
	Start() error
	// Serve serves requests on lis - blocking unless run in a goroutine
	Serve(lis net.Listener) error
	GracefulStop() error
	Stop() error
	// Run blocks until a client shuts the cluster down, or ctx is done
	Run(ctx context.Context) error
	Statistics() *stats.ServerStatistics
}

// NodeOptions are options for a Node, configuring elements of a sifgraph cluster
type NodeOptions struct {
	Rank                 int                `yaml:"rank"`                  // [REQUIRED] the line of the rendezvous file describing this Node. Rank 0 is the Coordinator.
	RendezvousFile       string             `yaml:"rendezvous_file"`       // [REQUIRED] file listing the address of every server, in rank order
	NumClients           int                `yaml:"num_clients"`           // [REQUIRED] the number of clients which will register with the Coordinator
	Host                 string             `yaml:"host"`                  // hostname for this Node to bind to (defaults to the host in the rendezvous file)
	PullChunkRows        int                `yaml:"pull_chunk_rows"`       // rows per streamed chunk, if a pull request does not specify one
	CompressionThreshold int                `yaml:"compression_threshold"` // payloads smaller than this many bytes are sent uncompressed
	MaxMessageSize       int                `yaml:"max_message_size"`      // the largest message this Node will receive, in bytes
	StopOnShutDown       bool               `yaml:"stop_on_shut_down"`     // iff true, stop serving as soon as a client shuts the cluster down
	LogLevel             int                `yaml:"log_level"`             // level for the default logger
	Logger               logrus.FieldLogger `yaml:"-"`                     // defaults to a text logger at LogLevel
}

// CloneNodeOptions makes a copy of a NodeOptions
func CloneNodeOptions(opts *NodeOptions) *NodeOptions {
	clone := *opts
	return &clone
}

// LoadNodeOptions reads NodeOptions from a YAML file
func LoadNodeOptions(path string) (*NodeOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read node options '%s': %w", path, err)
	}
	opts := &NodeOptions{LogLevel: logging.InfoLevel}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(opts); err != nil {
		return nil, fmt.Errorf("YAML syntax error in node options '%s': %w", path, err)
	}
	return opts, nil
}

func ensureDefaultNodeOptionsValues(opts *NodeOptions) error {
	// fail if certain required options are not supplied
	if opts.NumClients <= 0 {
		return fmt.Errorf("NodeOptions.NumClients must be greater than 0")
	}
	if len(opts.RendezvousFile) == 0 {
		return fmt.Errorf("NodeOptions.RendezvousFile must name the file listing every server")
	}
	if opts.Rank < 0 {
		return fmt.Errorf("NodeOptions.Rank must not be negative")
	}
	// default certain options if not supplied
	if opts.PullChunkRows == 0 {
		opts.PullChunkRows = 4096
	}
	if opts.CompressionThreshold == 0 {
		opts.CompressionThreshold = 4096
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 64 * 1024 * 1024
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(opts.LogLevel)
	}
	return nil
}

// bindAddress returns the address this node listens on, given its rendezvous entry
func (o *NodeOptions) bindAddress(entry string) (string, error) {
	host, port, err := net.SplitHostPort(entry)
	if err != nil {
		return "", err
	}
	if len(o.Host) > 0 {
		host = o.Host
	}
	return net.JoinHostPort(host, port), nil
}

// CreateNodeInRole creates a sifgraph node in a specific role (Coordinator or Server)
func CreateNodeInRole(role NodeRole, opts *NodeOptions) (Node, error) {
	switch role {
	case Coordinator:
		return createCoordinator(opts)
	case Server:
		return createServer(opts)
	default:
		return nil, fmt.Errorf("%s is an unknown NodeRole", role)
	}
}

// CreateNode creates a sifgraph node, deriving role from the SIFGRAPH_NODE_TYPE environment variable
func CreateNode(opts *NodeOptions) (Node, error) {
	role := os.Getenv(NodeTypeEnvVar)
	if len(role) == 0 {
		return nil, fmt.Errorf("$%s is not set - must be \"%s\" or \"%s\"", NodeTypeEnvVar, Coordinator, Server)
	}
	switch role {
	case Coordinator, Server:
		return CreateNodeInRole(role, opts)
	default:
		return nil, fmt.Errorf("$%s=\"%s\" is an unknown NodeRole", NodeTypeEnvVar, role)
	}
}
