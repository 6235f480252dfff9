// Package rpc contains the gRPC services of the sifgraph key-value store. Messages are plain Go
// structs encoded with msgpack, so services are described by hand-written ServiceDescs rather
// than generated from protobuf definitions.
package rpc
