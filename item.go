package sifgraph

const (
	// ColumnSeedNodes holds node ids to predict
	ColumnSeedNodes = "seed_nodes"
	// ColumnLabels holds one label per item
	ColumnLabels = "labels"
	// ColumnSrc holds the source node of a node pair
	ColumnSrc = "src"
	// ColumnDst holds the destination node of a node pair
	ColumnDst = "dst"
)

// ItemColumns are aligned, named columns of items
type ItemColumns map[string][]int64

// Len returns the number of items in these columns
func (c ItemColumns) Len() int {
	for _, col := range c {
		return len(col)
	}
	return 0
}

// ItemBatch is a batch of items produced by a minibatch sampler, before collation
type ItemBatch struct {
	// Index is the position of this batch within its epoch
	Index int
	// Keyed is true when items came from a dictionary of item sets, keyed by node or edge type
	Keyed bool
	// Columns holds the items of each key. Unkeyed batches use the empty key.
	Columns map[string]ItemColumns
}

// Len returns the number of items in this batch across all keys
func (b *ItemBatch) Len() int {
	n := 0
	for _, c := range b.Columns {
		n += c.Len()
	}
	return n
}
