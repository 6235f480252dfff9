// Package tensor provides the minimal tensor capabilities needed to move graph features through a
// sampling pipeline: row gathering, concatenation, device transfer and memory pinning. Math on
// tensors is left to whichever backend consumes them.
package tensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/go-sif/sifgraph/errors"
	"github.com/x448/float16"
)

// Tensor is a row-major array whose first dimension indexes rows
type Tensor interface {
	DType() DType
	// Shape returns the dimensions of the Tensor, rows first
	Shape() []int
	NumRows() int
	// RowBytes returns the width of a single row in bytes
	RowBytes() int
	Device() Device
	// Bytes returns the little-endian backing storage of this Tensor
	Bytes() []byte
	// GatherRows returns a new Tensor containing the requested rows, in the order requested
	GatherRows(ids []int64) (Tensor, error)
	// To returns this Tensor on the given Device, transferring it if necessary
	To(ctx context.Context, dev Device) (Tensor, error)
	// Pin locks this Tensor's memory. The Tensor may only be pinned once at a time.
	Pin() (*Pin, error)
	IsPinned() bool
}

// Dense is a Tensor backed by a contiguous byte slice
type Dense struct {
	dtype    DType
	shape    []int
	data     []byte
	device   Device
	pinLock  sync.Mutex
	pin      *Pin
	released bool
	free     func() error
}

// New creates a Dense Tensor over existing little-endian data
func New(dtype DType, data []byte, shape ...int) (*Dense, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("cannot create tensor with dtype %s", dtype)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor must have at least one dimension")
	}
	if n := numElements(shape) * dtype.Size(); n != len(data) {
		return nil, errors.ShapeError{
			What:     "tensor data",
			Expected: fmt.Sprintf("%d bytes for shape %v", n, shape),
			Actual:   fmt.Sprintf("%d bytes", len(data)),
		}
	}
	return &Dense{dtype: dtype, shape: append([]int(nil), shape...), data: data, device: CPU}, nil
}

// Zeros creates a zero-filled Dense Tensor
func Zeros(dtype DType, shape ...int) *Dense {
	t, err := New(dtype, make([]byte, numElements(shape)*dtype.Size()), shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloat32 creates a Dense Tensor from float32 values. With no shape, the Tensor is one-dimensional.
func FromFloat32(values []float32, shape ...int) (*Dense, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return New(Float32, data, defaultShape(shape, len(values))...)
}

// FromFloat64 creates a Dense Tensor from float64 values
func FromFloat64(values []float64, shape ...int) (*Dense, error) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return New(Float64, data, defaultShape(shape, len(values))...)
}

// FromFloat16 creates a Dense Tensor of half-precision values, converting from float32
func FromFloat16(values []float32, shape ...int) (*Dense, error) {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	return New(Float16, data, defaultShape(shape, len(values))...)
}

// FromInt64 creates a Dense Tensor from int64 values
func FromInt64(values []int64, shape ...int) (*Dense, error) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return New(Int64, data, defaultShape(shape, len(values))...)
}

// FromInt32 creates a Dense Tensor from int32 values
func FromInt32(values []int32, shape ...int) (*Dense, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return New(Int32, data, defaultShape(shape, len(values))...)
}

// MustFromFloat32 is FromFloat32 which panics on error, for literals in tests and examples
func MustFromFloat32(values []float32, shape ...int) *Dense {
	t, err := FromFloat32(values, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func defaultShape(shape []int, n int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	return shape
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// DType returns the element type of this Tensor
func (t *Dense) DType() DType {
	return t.dtype
}

// Shape returns the dimensions of this Tensor
func (t *Dense) Shape() []int {
	return append([]int(nil), t.shape...)
}

// RowShape returns the dimensions of a single row
func (t *Dense) RowShape() []int {
	return append([]int(nil), t.shape[1:]...)
}

// NumRows returns the size of the first dimension
func (t *Dense) NumRows() int {
	return t.shape[0]
}

// RowBytes returns the width of a single row in bytes
func (t *Dense) RowBytes() int {
	return numElements(t.shape[1:]) * t.dtype.Size()
}

// Device returns the Device this Tensor's memory belongs to
func (t *Dense) Device() Device {
	return t.device
}

// Bytes returns the backing storage of this Tensor
func (t *Dense) Bytes() []byte {
	return t.data
}

// Row returns the raw bytes of a single row, sharing storage
func (t *Dense) Row(i int) []byte {
	rb := t.RowBytes()
	return t.data[i*rb : (i+1)*rb]
}

func (t *Dense) checkLive() error {
	if t.released {
		return errors.ReleasedError{What: "tensor memory"}
	}
	return nil
}

// GatherRows copies the rows at ids into a new Tensor
func (t *Dense) GatherRows(ids []int64) (Tensor, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	rb := t.RowBytes()
	out := make([]byte, len(ids)*rb)
	for i, id := range ids {
		if id < 0 || id >= int64(t.shape[0]) {
			return nil, errors.OutOfRangeError{What: "tensor rows", ID: id, Bound: int64(t.shape[0])}
		}
		copy(out[i*rb:(i+1)*rb], t.data[id*int64(rb):(id+1)*int64(rb)])
	}
	shape := append([]int{len(ids)}, t.shape[1:]...)
	return &Dense{dtype: t.dtype, shape: shape, data: out, device: t.device}, nil
}

// ScatterRows overwrites the rows at ids with the rows of values
func (t *Dense) ScatterRows(ids []int64, values Tensor) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if values.DType() != t.dtype || values.RowBytes() != t.RowBytes() || values.NumRows() != len(ids) {
		return errors.ShapeError{
			What:     "scattered rows",
			Expected: fmt.Sprintf("%d rows of %s%v", len(ids), t.dtype, t.shape[1:]),
			Actual:   fmt.Sprintf("%d rows of %s%v", values.NumRows(), values.DType(), values.Shape()[1:]),
		}
	}
	rb := t.RowBytes()
	src := values.Bytes()
	for i, id := range ids {
		if id < 0 || id >= int64(t.shape[0]) {
			return errors.OutOfRangeError{What: "tensor rows", ID: id, Bound: int64(t.shape[0])}
		}
		copy(t.data[id*int64(rb):(id+1)*int64(rb)], src[i*rb:(i+1)*rb])
	}
	return nil
}

// To transfers this Tensor to a Device. Transferring to the Device it already lives on is a no-op.
func (t *Dense) To(ctx context.Context, dev Device) (Tensor, error) {
	if dev == nil || dev.Name() == t.device.Name() {
		return t, nil
	}
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	return dev.Transfer(ctx, t)
}

// Clone copies this Tensor into fresh host memory
func (t *Dense) Clone() *Dense {
	data := make([]byte, len(t.data))
	copy(data, t.data)
	return &Dense{dtype: t.dtype, shape: t.Shape(), data: data, device: CPU}
}

// Reshape returns a view of this Tensor with a new shape holding the same number of elements
func (t *Dense) Reshape(shape ...int) (*Dense, error) {
	if numElements(shape) != numElements(t.shape) {
		return nil, errors.ShapeError{
			What:     "reshape",
			Expected: fmt.Sprintf("%d elements", numElements(t.shape)),
			Actual:   fmt.Sprintf("%d elements in %v", numElements(shape), shape),
		}
	}
	return &Dense{dtype: t.dtype, shape: append([]int(nil), shape...), data: t.data, device: t.device}, nil
}

// Float32s decodes this Tensor's elements as float32, converting from other float types
func (t *Dense) Float32s() ([]float32, error) {
	return AsFloat32(t)
}

// Int64s decodes this Tensor's elements as int64, converting from other integer types
func (t *Dense) Int64s() ([]int64, error) {
	return AsInt64(t)
}

// AsFloat32 decodes the elements of any floating point Tensor as float32
func AsFloat32(t Tensor) ([]float32, error) {
	data := t.Bytes()
	switch t.DType() {
	case Float32:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case Float64:
		out := make([]float32, len(data)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
		return out, nil
	case Float16:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot read %s tensor as float32", t.DType())
	}
}

// AsFloat64 decodes the elements of any floating point Tensor as float64
func AsFloat64(t Tensor) ([]float64, error) {
	if t.DType() == Float64 {
		data := t.Bytes()
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	}
	narrow, err := AsFloat32(t)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s tensor as float64", t.DType())
	}
	out := make([]float64, len(narrow))
	for i, v := range narrow {
		out[i] = float64(v)
	}
	return out, nil
}

// AsInt64 decodes the elements of any integer Tensor as int64
func AsInt64(t Tensor) ([]int64, error) {
	data := t.Bytes()
	switch t.DType() {
	case Int64:
		out := make([]int64, len(data)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	case Int32:
		out := make([]int64, len(data)/4)
		for i := range out {
			out[i] = int64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	case Uint8:
		out := make([]int64, len(data))
		for i, b := range data {
			out[i] = int64(b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot read %s tensor as int64", t.DType())
	}
}

// Concat joins Tensors along their first dimension. All inputs must share dtype and row shape.
func Concat(ts ...Tensor) (Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("cannot concatenate zero tensors")
	}
	first := ts[0]
	rows := 0
	size := 0
	for _, t := range ts {
		if t.DType() != first.DType() || !equalInts(t.Shape()[1:], first.Shape()[1:]) {
			return nil, errors.ShapeError{
				What:     "concatenated tensor",
				Expected: fmt.Sprintf("%s%v", first.DType(), first.Shape()[1:]),
				Actual:   fmt.Sprintf("%s%v", t.DType(), t.Shape()[1:]),
			}
		}
		rows += t.NumRows()
		size += len(t.Bytes())
	}
	data := make([]byte, 0, size)
	for _, t := range ts {
		data = append(data, t.Bytes()...)
	}
	shape := append([]int{rows}, first.Shape()[1:]...)
	return &Dense{dtype: first.DType(), shape: shape, data: data, device: CPU}, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
