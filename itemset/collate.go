package itemset

import (
	"fmt"
	"strings"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/compaction"
	"github.com/go-sif/sifgraph/tensor"
)

// Collate is the default Collator. Seed node items become the Seeds of the MiniBatch. Node pair
// items are compacted, so that Seeds holds every node of the pairs and NodePairs holds the
// pairs as indices into Seeds. Labels become int64 tensors keyed by node type, or by edge type
// for node pairs.
func Collate(sctx sifgraph.StageContext, batch *sifgraph.ItemBatch) (*sifgraph.MiniBatch, error) {
	seeds := make(map[string][]int64)
	pairs := make(map[sifgraph.EdgeType]sifgraph.NodePairs)
	labels := make(map[string][]int64)
	for _, key := range sifgraph.SortedNodeTypes(batch.Columns) {
		columns := batch.Columns[key]
		if l, ok := columns[sifgraph.ColumnLabels]; ok {
			labelKey := key
			if labelKey == "" {
				labelKey = defaultKey(columns)
			}
			labels[labelKey] = l
		}
		if s, ok := columns[sifgraph.ColumnSeedNodes]; ok {
			ntype := key
			if !batch.Keyed {
				ntype = sifgraph.DefaultNodeType
			} else if strings.Contains(key, ":") {
				return nil, fmt.Errorf("seed nodes are keyed by edge type %q", key)
			}
			seeds[ntype] = s
			continue
		}
		src, hasSrc := columns[sifgraph.ColumnSrc]
		dst, hasDst := columns[sifgraph.ColumnDst]
		if !hasSrc || !hasDst {
			return nil, fmt.Errorf("items of key %q have neither %s nor %s/%s columns", key, sifgraph.ColumnSeedNodes, sifgraph.ColumnSrc, sifgraph.ColumnDst)
		}
		etype := sifgraph.DefaultEdgeType
		if batch.Keyed {
			etype = sifgraph.EdgeType(key)
			if _, _, _, err := etype.Split(); err != nil {
				return nil, err
			}
		}
		pairs[etype] = sifgraph.NodePairs{Src: src, Dst: dst}
	}
	if len(seeds) > 0 && len(pairs) > 0 {
		return nil, fmt.Errorf("batch %d mixes seed nodes and node pairs", batch.Index)
	}

	homogeneous := !batch.Keyed
	var mb *sifgraph.MiniBatch
	if len(pairs) > 0 {
		unique, compacted, err := compaction.UniqueAndCompactNodePairsHetero(pairs, nil)
		if err != nil {
			return nil, err
		}
		mb = sifgraph.NewMiniBatch(batch.Index, sifgraph.FromTyped(unique, homogeneous))
		mb.NodePairs = compacted
	} else {
		mb = sifgraph.NewMiniBatch(batch.Index, sifgraph.FromTyped(seeds, homogeneous))
	}
	for key, l := range labels {
		t, err := tensor.FromInt64(l)
		if err != nil {
			return nil, err
		}
		mb.Labels[key] = t
	}
	return mb, nil
}

func defaultKey(columns sifgraph.ItemColumns) string {
	if _, ok := columns[sifgraph.ColumnSeedNodes]; ok {
		return sifgraph.DefaultNodeType
	}
	return string(sifgraph.DefaultEdgeType)
}
