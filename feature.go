package sifgraph

import (
	"context"
	"fmt"

	"github.com/go-sif/sifgraph/tensor"
)

// Domain indicates whether a feature describes nodes or edges
type Domain string

const (
	// NodeDomain features have one row per node of a type
	NodeDomain Domain = "node"
	// EdgeDomain features have one row per edge of a type
	EdgeDomain Domain = "edge"
)

// ParseDomain validates the textual form of a Domain
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case NodeDomain, EdgeDomain:
		return Domain(s), nil
	default:
		return "", fmt.Errorf("feature domain must be %q or %q, got %q", NodeDomain, EdgeDomain, s)
	}
}

// Feature is a table of rows, one per node or edge of a type, which can be gathered by id
type Feature interface {
	// Read gathers rows in the order of ids. A nil ids reads every row.
	Read(ctx context.Context, ids []int64) (tensor.Tensor, error)
	// Update overwrites the rows at ids
	Update(ctx context.Context, ids []int64, values tensor.Tensor) error
	NumRows() int
	// RowShape returns the dimensions of a single row
	RowShape() []int
	DType() tensor.DType
}
