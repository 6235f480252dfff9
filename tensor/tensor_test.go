package tensor

import (
	"bytes"
	"context"
	goerrors "errors"
	"path/filepath"
	"testing"

	"github.com/go-sif/sifgraph/errors"
	"github.com/stretchr/testify/require"
)

func TestGatherRows(t *testing.T) {
	feat := MustFromFloat32([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	rows, err := feat.GatherRows([]int64{2, 0, 2})
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, rows.Shape())
	values, err := AsFloat32(rows)
	require.NoError(t, err)
	require.Equal(t, []float32{5, 6, 1, 2, 5, 6}, values)

	_, err = feat.GatherRows([]int64{3})
	var rangeErr errors.OutOfRangeError
	require.True(t, goerrors.As(err, &rangeErr))
	require.EqualValues(t, 3, rangeErr.ID)
}

func TestScatterRows(t *testing.T) {
	feat := MustFromFloat32([]float32{0, 1, 2})
	require.NoError(t, feat.ScatterRows([]int64{2, 0}, MustFromFloat32([]float32{0, 2})))
	values, err := feat.Float32s()
	require.NoError(t, err)
	require.Equal(t, []float32{2, 1, 0}, values)

	err = feat.ScatterRows([]int64{0}, MustFromFloat32([]float32{1, 2}))
	require.ErrorAs(t, err, &errors.ShapeError{})
}

func TestConcat(t *testing.T) {
	a := MustFromFloat32([]float32{1, 2}, 1, 2)
	b := MustFromFloat32([]float32{3, 4, 5, 6}, 2, 2)
	c, err := Concat(a, b)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, c.Shape())
	values, err := AsFloat32(c)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, values)

	_, err = Concat(a, MustFromFloat32([]float32{1, 2, 3}, 1, 3))
	require.ErrorAs(t, err, &errors.ShapeError{})
}

func TestFloat16RoundTrip(t *testing.T) {
	half, err := FromFloat16([]float32{0.5, -2, 1024})
	require.NoError(t, err)
	require.Equal(t, 2, half.RowBytes())
	values, err := half.Float32s()
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -2, 1024}, values)
}

func TestNpyRoundTrip(t *testing.T) {
	ids, err := FromInt64([]int64{4, 8, 15, 16, 23, 42}, 3, 2)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteNpy(&buf, ids))
	// header is padded so data starts on a 64 byte boundary
	require.Zero(t, (buf.Len()-len(ids.Bytes()))%64)

	read, err := ReadNpy(&buf)
	require.NoError(t, err)
	require.Equal(t, Int64, read.DType())
	require.Equal(t, []int{3, 2}, read.Shape())
	values, err := read.Int64s()
	require.NoError(t, err)
	require.Equal(t, []int64{4, 8, 15, 16, 23, 42}, values)

	path := filepath.Join(t.TempDir(), "ids.npy")
	require.NoError(t, WriteNpyFile(path, ids))
	read, err = ReadNpyFile(path)
	require.NoError(t, err)
	require.Equal(t, ids.Bytes(), read.Bytes())
}

func TestPinLifecycle(t *testing.T) {
	feat := MustFromFloat32([]float32{1, 2, 3, 4}, 2, 2)
	pin, err := feat.Pin()
	require.NoError(t, err)
	require.True(t, feat.IsPinned())

	_, err = feat.Pin()
	require.ErrorAs(t, err, &errors.AlreadyPinnedError{})

	require.NoError(t, pin.Release())
	require.False(t, feat.IsPinned())
	require.ErrorAs(t, pin.Release(), &errors.ReleasedError{})
	_, err = pin.Tensor()
	require.ErrorAs(t, err, &errors.ReleasedError{})

	// an in-place pin does not own the memory, so the tensor stays readable
	_, err = feat.GatherRows([]int64{1})
	require.NoError(t, err)
}

func TestAllocPinnedReleasesMemory(t *testing.T) {
	src := MustFromFloat32([]float32{1, 2, 3, 4}, 2, 2)
	pin, err := AllocPinned(src)
	require.NoError(t, err)
	pinned, err := pin.Tensor()
	require.NoError(t, err)
	rows, err := pinned.GatherRows([]int64{1})
	require.NoError(t, err)
	values, err := AsFloat32(rows)
	require.NoError(t, err)
	require.Equal(t, []float32{3, 4}, values)

	require.NoError(t, pin.Release())
	_, err = pinned.GatherRows([]int64{0})
	require.ErrorAs(t, err, &errors.ReleasedError{})
}

func TestWithPinnedReleasesOnPanic(t *testing.T) {
	feat := MustFromFloat32([]float32{1, 2})
	require.Panics(t, func() {
		_ = WithPinned(feat, func(p *Pin) error {
			panic("boom")
		})
	})
	require.False(t, feat.IsPinned())

	err := WithPinned(feat, func(p *Pin) error {
		require.True(t, feat.IsPinned())
		return nil
	})
	require.NoError(t, err)
	require.False(t, feat.IsPinned())
}

func TestTransferToCPU(t *testing.T) {
	feat := MustFromFloat32([]float32{1, 2})
	same, err := feat.To(context.Background(), CPU)
	require.NoError(t, err)
	require.Same(t, feat, same)
}
