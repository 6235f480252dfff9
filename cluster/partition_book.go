package cluster

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/internal/rpc"
	iutil "github.com/go-sif/sifgraph/internal/util"
)

// PartitionBook maps every key in [0, NumKeys) to the rank of the server which owns it
type PartitionBook interface {
	// Partition returns the owning rank of id, or a RoutingError if id has no owner
	Partition(id int64) (int, error)
	NumPartitions() int
	NumKeys() int64
	// OwnedIDs returns the ascending keys owned by rank
	OwnedIDs(rank int) []int64
	// Fingerprint identifies the mapping, so that two clients can verify they use the same book
	Fingerprint() uint64
	toMessage() *rpc.MPartitionBook
}

// RangePartitionBook assigns contiguous ranges of keys to each rank
type RangePartitionBook struct {
	bounds []int64
}

// NewRangePartitionBook creates a RangePartitionBook from the exclusive upper bound of each
// rank's range. Bounds must be non-decreasing and non-negative.
func NewRangePartitionBook(bounds []int64) (*RangePartitionBook, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("a range partition book requires at least one partition")
	}
	for i, b := range bounds {
		if b < 0 || (i > 0 && b < bounds[i-1]) {
			return nil, fmt.Errorf("range partition bounds must be non-negative and non-decreasing: %v", bounds)
		}
	}
	return &RangePartitionBook{bounds: append([]int64(nil), bounds...)}, nil
}

// EvenRangePartitionBook splits numKeys keys into numPartitions ranges of near-equal size
func EvenRangePartitionBook(numKeys int64, numPartitions int) (*RangePartitionBook, error) {
	if numPartitions <= 0 || numKeys < 0 {
		return nil, fmt.Errorf("cannot split %d keys into %d partitions", numKeys, numPartitions)
	}
	bounds := make([]int64, numPartitions)
	for i := range bounds {
		bounds[i] = numKeys * int64(i+1) / int64(numPartitions)
	}
	return NewRangePartitionBook(bounds)
}

// Partition returns the rank whose range contains id
func (b *RangePartitionBook) Partition(id int64) (int, error) {
	if id < 0 || id >= b.NumKeys() {
		return 0, errors.RoutingError{ID: id}
	}
	return sort.Search(len(b.bounds), func(i int) bool { return id < b.bounds[i] }), nil
}

// NumPartitions returns the number of ranks
func (b *RangePartitionBook) NumPartitions() int {
	return len(b.bounds)
}

// NumKeys returns the exclusive upper bound of the last range
func (b *RangePartitionBook) NumKeys() int64 {
	return b.bounds[len(b.bounds)-1]
}

// OwnedIDs returns the keys in rank's range
func (b *RangePartitionBook) OwnedIDs(rank int) []int64 {
	if rank < 0 || rank >= len(b.bounds) {
		return nil
	}
	var low int64
	if rank > 0 {
		low = b.bounds[rank-1]
	}
	ids := make([]int64, 0, b.bounds[rank]-low)
	for id := low; id < b.bounds[rank]; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Fingerprint hashes the bounds of this book
func (b *RangePartitionBook) Fingerprint() uint64 {
	return fingerprint(rpc.BookRange, b.NumKeys(), len(b.bounds), b.bounds)
}

func (b *RangePartitionBook) toMessage() *rpc.MPartitionBook {
	return &rpc.MPartitionBook{
		Kind:          rpc.BookRange,
		NumKeys:       b.NumKeys(),
		NumPartitions: int32(len(b.bounds)),
		Bounds:        b.bounds,
		Fingerprint:   b.Fingerprint(),
	}
}

// TensorPartitionBook stores the owning rank of every key explicitly
type TensorPartitionBook struct {
	owners        []int32
	numPartitions int
}

// NewTensorPartitionBook creates a TensorPartitionBook, where owners[id] is the rank owning id
func NewTensorPartitionBook(owners []int32, numPartitions int) (*TensorPartitionBook, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("a tensor partition book requires at least one partition")
	}
	for id, rank := range owners {
		if rank < 0 || int(rank) >= numPartitions {
			return nil, errors.OutOfRangeError{What: "partition book owners", ID: int64(id), Bound: int64(numPartitions)}
		}
	}
	return &TensorPartitionBook{owners: append([]int32(nil), owners...), numPartitions: numPartitions}, nil
}

// Partition returns owners[id]
func (b *TensorPartitionBook) Partition(id int64) (int, error) {
	if id < 0 || id >= int64(len(b.owners)) {
		return 0, errors.RoutingError{ID: id}
	}
	return int(b.owners[id]), nil
}

// NumPartitions returns the number of ranks
func (b *TensorPartitionBook) NumPartitions() int {
	return b.numPartitions
}

// NumKeys returns the length of the owner array
func (b *TensorPartitionBook) NumKeys() int64 {
	return int64(len(b.owners))
}

// OwnedIDs returns the keys assigned to rank
func (b *TensorPartitionBook) OwnedIDs(rank int) []int64 {
	var ids []int64
	for id, owner := range b.owners {
		if int(owner) == rank {
			ids = append(ids, int64(id))
		}
	}
	return ids
}

// Fingerprint hashes the owner array of this book
func (b *TensorPartitionBook) Fingerprint() uint64 {
	owners := make([]int64, len(b.owners))
	for i, o := range b.owners {
		owners[i] = int64(o)
	}
	return fingerprint(rpc.BookTensor, b.NumKeys(), b.numPartitions, owners)
}

func (b *TensorPartitionBook) toMessage() *rpc.MPartitionBook {
	return &rpc.MPartitionBook{
		Kind:          rpc.BookTensor,
		NumKeys:       b.NumKeys(),
		NumPartitions: int32(b.numPartitions),
		Owners:        b.owners,
		Fingerprint:   b.Fingerprint(),
	}
}

// HashPartitionBook spreads keys over ranks by their xxhash
type HashPartitionBook struct {
	numKeys int64
	buckets []uint64
}

// NewHashPartitionBook creates a HashPartitionBook over the keys [0, numKeys)
func NewHashPartitionBook(numKeys int64, numPartitions int) (*HashPartitionBook, error) {
	if numPartitions <= 0 || numKeys < 0 {
		return nil, fmt.Errorf("cannot hash %d keys into %d partitions", numKeys, numPartitions)
	}
	return &HashPartitionBook{numKeys: numKeys, buckets: iutil.ComputeHashBuckets(numPartitions)}, nil
}

func hashKey(id int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return xxhash.Sum64(buf[:])
}

// Partition returns the rank whose hash bucket contains the hash of id
func (b *HashPartitionBook) Partition(id int64) (int, error) {
	if id < 0 || id >= b.numKeys {
		return 0, errors.RoutingError{ID: id}
	}
	return iutil.BucketOf(b.buckets, hashKey(id)), nil
}

// NumPartitions returns the number of ranks
func (b *HashPartitionBook) NumPartitions() int {
	return len(b.buckets)
}

// NumKeys returns the number of hashed keys
func (b *HashPartitionBook) NumKeys() int64 {
	return b.numKeys
}

// OwnedIDs returns the keys whose hash falls in rank's bucket
func (b *HashPartitionBook) OwnedIDs(rank int) []int64 {
	var ids []int64
	for id := int64(0); id < b.numKeys; id++ {
		if iutil.BucketOf(b.buckets, hashKey(id)) == rank {
			ids = append(ids, id)
		}
	}
	return ids
}

// Fingerprint hashes the key count and partition count of this book
func (b *HashPartitionBook) Fingerprint() uint64 {
	return fingerprint(rpc.BookHash, b.numKeys, len(b.buckets), nil)
}

func (b *HashPartitionBook) toMessage() *rpc.MPartitionBook {
	return &rpc.MPartitionBook{
		Kind:          rpc.BookHash,
		NumKeys:       b.numKeys,
		NumPartitions: int32(len(b.buckets)),
		Fingerprint:   b.Fingerprint(),
	}
}

func fingerprint(kind string, numKeys int64, numPartitions int, values []int64) uint64 {
	d := xxhash.New()
	d.WriteString(kind)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(numKeys))
	d.Write(buf)
	binary.LittleEndian.PutUint64(buf, uint64(numPartitions))
	d.Write(buf)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		d.Write(buf)
	}
	return d.Sum64()
}

// partitionBookFromMessage rebuilds a PartitionBook received from the registry
func partitionBookFromMessage(m *rpc.MPartitionBook) (PartitionBook, error) {
	var book PartitionBook
	var err error
	switch m.Kind {
	case rpc.BookRange:
		book, err = NewRangePartitionBook(m.Bounds)
	case rpc.BookTensor:
		book, err = NewTensorPartitionBook(m.Owners, int(m.NumPartitions))
	case rpc.BookHash:
		book, err = NewHashPartitionBook(m.NumKeys, int(m.NumPartitions))
	default:
		return nil, fmt.Errorf("unknown partition book kind %q", m.Kind)
	}
	if err != nil {
		return nil, err
	}
	if book.Fingerprint() != m.Fingerprint {
		return nil, fmt.Errorf("partition book fingerprint mismatch: %x != %x", book.Fingerprint(), m.Fingerprint)
	}
	return book, nil
}
