// Package testing runs sifgraph key-value clusters on localhost, for tests and examples
package testing

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/go-sif/sifgraph/cluster"
)

// LocalCluster is a set of key-value servers running in this process
type LocalCluster struct {
	// RendezvousFile lists the address of every server
	RendezvousFile string
	Nodes          []cluster.Node
	wg             sync.WaitGroup
	errLock        sync.Mutex
	errs           []error
}

// StartLocalCluster starts numServers servers on ephemeral localhost ports, writing their
// rendezvous file to dir. opts is cloned for each server, and must set NumClients.
func StartLocalCluster(dir string, numServers int, opts *cluster.NodeOptions) (*LocalCluster, error) {
	if numServers <= 0 {
		return nil, fmt.Errorf("a local cluster requires at least one server")
	}
	listeners := make([]net.Listener, 0, numServers)
	closeListeners := func() {
		for _, lis := range listeners {
			lis.Close()
		}
	}
	addrs := make([]string, 0, numServers)
	for i := 0; i < numServers; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeListeners()
			return nil, err
		}
		listeners = append(listeners, lis)
		addrs = append(addrs, lis.Addr().String())
	}
	lc := &LocalCluster{RendezvousFile: filepath.Join(dir, "rendezvous.txt")}
	if err := cluster.WriteRendezvousFile(lc.RendezvousFile, addrs); err != nil {
		closeListeners()
		return nil, err
	}
	for rank := range listeners {
		nopts := cluster.CloneNodeOptions(opts)
		nopts.Rank = rank
		nopts.RendezvousFile = lc.RendezvousFile
		role := cluster.Server
		if rank == 0 {
			role = cluster.Coordinator
		}
		node, err := cluster.CreateNodeInRole(role, nopts)
		if err != nil {
			closeListeners()
			lc.Stop()
			return nil, err
		}
		lc.Nodes = append(lc.Nodes, node)
	}
	for rank, node := range lc.Nodes {
		lc.wg.Add(1)
		go func(node cluster.Node, lis net.Listener) {
			defer lc.wg.Done()
			if err := node.Serve(lis); err != nil {
				lc.errLock.Lock()
				lc.errs = append(lc.errs, err)
				lc.errLock.Unlock()
			}
		}(node, listeners[rank])
	}
	return lc, nil
}

// Coordinator returns the rank 0 node
func (lc *LocalCluster) Coordinator() cluster.Node {
	return lc.Nodes[0]
}

// Stop every server immediately, returning the first error any of them failed with
func (lc *LocalCluster) Stop() error {
	for _, node := range lc.Nodes {
		node.Stop()
	}
	lc.wg.Wait()
	lc.errLock.Lock()
	defer lc.errLock.Unlock()
	if len(lc.errs) > 0 {
		return lc.errs[0]
	}
	return nil
}
