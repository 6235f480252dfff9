// Package sifgraph contains the core components of Sifgraph, a data plane for training graph
// neural networks on large graphs. This root package defines the types which flow through a
// sampling pipeline (ids, blocks, minibatches, stages and features) and is an excellent overview
// of Sifgraph's key concepts. Sampling, feature storage, the data loader and the distributed
// key-value store live in subpackages.
package sifgraph
