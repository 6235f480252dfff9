package tensor

import (
	"fmt"
	"strings"
)

// DType is the element type of a Tensor
type DType uint8

const (
	// InvalidDType is the zero value of DType
	InvalidDType DType = iota
	// Float32 is a 32-bit IEEE 754 float
	Float32
	// Float64 is a 64-bit IEEE 754 float
	Float64
	// Float16 is a 16-bit IEEE 754 half-precision float
	Float16
	// Int64 is a signed 64-bit integer
	Int64
	// Int32 is a signed 32-bit integer
	Int32
	// Uint8 is an unsigned byte
	Uint8
)

// Size returns the width of a single element in bytes
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16:
		return 2
	case Uint8:
		return 1
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	default:
		return "invalid"
	}
}

// IsFloat returns true for floating point types
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64 || d == Float16
}

// NumpyDescr returns the numpy type descriptor for this DType (always little-endian)
func (d DType) NumpyDescr() string {
	switch d {
	case Float32:
		return "<f4"
	case Float64:
		return "<f8"
	case Float16:
		return "<f2"
	case Int64:
		return "<i8"
	case Int32:
		return "<i4"
	case Uint8:
		return "|u1"
	default:
		return ""
	}
}

// DTypeFromNumpy parses a numpy type descriptor such as "<f4"
func DTypeFromNumpy(descr string) (DType, error) {
	if strings.HasPrefix(descr, ">") {
		return InvalidDType, fmt.Errorf("big-endian numpy type %q is not supported", descr)
	}
	switch strings.TrimLeft(descr, "<=|") {
	case "f4":
		return Float32, nil
	case "f8":
		return Float64, nil
	case "f2":
		return Float16, nil
	case "i8":
		return Int64, nil
	case "i4":
		return Int32, nil
	case "u1", "b1":
		return Uint8, nil
	default:
		return InvalidDType, fmt.Errorf("unsupported numpy type %q", descr)
	}
}

// ParseDType parses the textual name of a DType
func ParseDType(name string) (DType, error) {
	for _, d := range []DType{Float32, Float64, Float16, Int64, Int32, Uint8} {
		if d.String() == name {
			return d, nil
		}
	}
	return InvalidDType, fmt.Errorf("unknown dtype %q", name)
}
