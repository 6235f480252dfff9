package cluster

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-sif/sifgraph/errors"
	iutil "github.com/go-sif/sifgraph/internal/util"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/stretchr/testify/require"
)

func TestParseRendezvous(t *testing.T) {
	addrs, err := ParseRendezvous(strings.NewReader("# servers\n127.0.0.1:9000\n\n  10.0.0.2 9001\n[::1]:9002\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"127.0.0.1:9000", "10.0.0.2:9001", "[::1]:9002"}, addrs)

	for _, bad := range []string{"", "# only comments\n", "host\n", "host 1 2\n", "host:http\n", "host 70000\n"} {
		_, err := ParseRendezvous(strings.NewReader(bad))
		require.Error(t, err, bad)
	}

	path := filepath.Join(t.TempDir(), "servers.txt")
	require.NoError(t, WriteRendezvousFile(path, addrs))
	read, err := ReadRendezvousFile(path)
	require.NoError(t, err)
	require.Equal(t, addrs, read)
	_, err = ReadRendezvousFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestRangePartitionBook(t *testing.T) {
	book, err := NewRangePartitionBook([]int64{2, 2, 5})
	require.NoError(t, err)
	require.Equal(t, 3, book.NumPartitions())
	require.EqualValues(t, 5, book.NumKeys())
	for id, rank := range []int{0, 0, 2, 2, 2} {
		r, err := book.Partition(int64(id))
		require.NoError(t, err)
		require.Equal(t, rank, r)
	}
	_, err = book.Partition(5)
	var routingErr errors.RoutingError
	require.ErrorAs(t, err, &routingErr)
	_, err = book.Partition(-1)
	require.ErrorAs(t, err, &routingErr)
	require.Equal(t, []int64{0, 1}, book.OwnedIDs(0))
	require.Empty(t, book.OwnedIDs(1))
	require.Equal(t, []int64{2, 3, 4}, book.OwnedIDs(2))

	_, err = NewRangePartitionBook([]int64{3, 1})
	require.Error(t, err)
	_, err = NewRangePartitionBook(nil)
	require.Error(t, err)
}

func TestTensorPartitionBook(t *testing.T) {
	book, err := NewTensorPartitionBook([]int32{0, 0, 1, 1, 2, 2, 3, 3}, 4)
	require.NoError(t, err)
	r, err := book.Partition(5)
	require.NoError(t, err)
	require.Equal(t, 2, r)
	require.Equal(t, []int64{6, 7}, book.OwnedIDs(3))
	_, err = book.Partition(8)
	var routingErr errors.RoutingError
	require.ErrorAs(t, err, &routingErr)

	_, err = NewTensorPartitionBook([]int32{0, 4}, 4)
	var rangeErr errors.OutOfRangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestHashPartitionBook(t *testing.T) {
	book, err := NewHashPartitionBook(1000, 3)
	require.NoError(t, err)
	total := 0
	for rank := 0; rank < 3; rank++ {
		owned := book.OwnedIDs(rank)
		require.NotEmpty(t, owned)
		for _, id := range owned {
			r, err := book.Partition(id)
			require.NoError(t, err)
			require.Equal(t, rank, r)
		}
		total += len(owned)
	}
	require.Equal(t, 1000, total)
	_, err = book.Partition(1000)
	require.Error(t, err)
}

func TestPartitionBookMessages(t *testing.T) {
	rangeBook, err := EvenRangePartitionBook(10, 3)
	require.NoError(t, err)
	tensorBook, err := NewTensorPartitionBook([]int32{1, 0, 2}, 3)
	require.NoError(t, err)
	hashBook, err := NewHashPartitionBook(10, 3)
	require.NoError(t, err)
	fingerprints := make(map[uint64]bool)
	for _, book := range []PartitionBook{rangeBook, tensorBook, hashBook} {
		decoded, err := partitionBookFromMessage(book.toMessage())
		require.NoError(t, err)
		require.Equal(t, book.Fingerprint(), decoded.Fingerprint())
		require.Equal(t, book.OwnedIDs(1), decoded.OwnedIDs(1))
		fingerprints[book.Fingerprint()] = true
	}
	require.Len(t, fingerprints, 3)

	m := rangeBook.toMessage()
	m.Fingerprint++
	_, err = partitionBookFromMessage(m)
	require.Error(t, err)
}

func TestPayloadCompression(t *testing.T) {
	raw := bytes.Repeat([]byte("sifgraph rows "), 1000)
	for _, c := range []Compression{CompressionLZ4, CompressionZstd, CompressionNone} {
		codec, err := c.codec()
		require.NoError(t, err)
		used, data, err := encodePayload(raw, codec, 64)
		require.NoError(t, err)
		if c == CompressionNone {
			require.EqualValues(t, iutil.RawPayload, used)
		} else {
			require.Equal(t, codec, used)
			require.Less(t, len(data), len(raw))
		}
		decoded, err := decodePayload(used, data, len(raw))
		require.NoError(t, err)
		require.Equal(t, raw, decoded)
	}

	used, data, err := encodePayload(raw[:10], iutil.LZ4Payload, 64)
	require.NoError(t, err)
	require.EqualValues(t, iutil.RawPayload, used)
	require.Equal(t, raw[:10], data)

	_, err = decodePayload(iutil.RawPayload, raw[:10], 11)
	require.Error(t, err)
	_, err = Compression("snappy").codec()
	require.Error(t, err)
}

func TestRowEncoding(t *testing.T) {
	values := []float32{1, 2, 3, 4, 5, 6}
	raw, err := encodeRows(values, 3, []int32{2})
	require.NoError(t, err)
	require.Equal(t, tensor.MustFromFloat32(values, 3, 2).Bytes(), raw)
	decoded, err := decodeRows(raw, 3, []int32{2})
	require.NoError(t, err)
	require.Equal(t, values, decoded)
	_, err = decodeRows(raw, 4, []int32{2})
	require.Error(t, err)
}

func TestNodeOptions(t *testing.T) {
	dir := t.TempDir()
	rendezvous := filepath.Join(dir, "servers.txt")
	require.NoError(t, WriteRendezvousFile(rendezvous, []string{"127.0.0.1:9100", "127.0.0.1:9101"}))
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rank: 1\nrendezvous_file: "+rendezvous+"\nnum_clients: 4\nhost: 0.0.0.0\n"), 0o644))
	opts, err := LoadNodeOptions(path)
	require.NoError(t, err)
	require.Equal(t, 1, opts.Rank)
	require.Equal(t, 4, opts.NumClients)
	addr, err := opts.bindAddress("127.0.0.1:9101")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9101", addr)

	require.NoError(t, os.WriteFile(path, []byte("rank: 1\nnum_clinets: 4\n"), 0o644))
	_, err = LoadNodeOptions(path)
	require.Error(t, err)

	_, err = CreateNodeInRole(Coordinator, CloneNodeOptions(opts))
	require.Error(t, err)
	_, err = CreateNodeInRole("worker", CloneNodeOptions(opts))
	require.Error(t, err)
	node, err := CreateNodeInRole(Server, CloneNodeOptions(opts))
	require.NoError(t, err)
	require.Equal(t, 1, node.Rank())
	require.False(t, node.IsCoordinator())

	t.Setenv(NodeTypeEnvVar, "")
	_, err = CreateNode(CloneNodeOptions(opts))
	require.Error(t, err)
	t.Setenv(NodeTypeEnvVar, Server)
	_, err = CreateNode(CloneNodeOptions(opts))
	require.NoError(t, err)

	missing := CloneNodeOptions(opts)
	missing.NumClients = 0
	_, err = CreateNodeInRole(Server, missing)
	require.Error(t, err)
}
