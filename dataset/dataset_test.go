package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/errors"
	"github.com/go-sif/sifgraph/feature"
	"github.com/go-sif/sifgraph/itemset"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/stretchr/testify/require"
)

const manifest = `
graph:
  indptr: graph/indptr.npy
  indices: graph/indices.npy
  edge_attributes:
    prob: graph/prob.npy
feature_data:
  - domain: node
    name: feat
    format: numpy
    in_memory: false
    path: node_data/feat.npy
  - domain: edge
    name: weight
    format: numpy
    path: edge_data/weight.npy
train_sets:
  - - format: numpy
      path: set/train.npy
validation_sets:
  - - format: jsonl
      path: set/validation.jsonl
test_sets:
  - - type_name: author
      format: numpy
      in_memory: false
      path: set/test-author.npy
    - type_name: paper
      format: numpy
      path: set/test-paper.npy
`

func writeNpy(t *testing.T, dir string, name string, tensorValue tensor.Tensor) {
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, tensor.WriteNpyFile(path, tensorValue))
}

func int64Tensor(t *testing.T, values []int64, shape ...int) tensor.Tensor {
	res, err := tensor.FromInt64(values, shape...)
	require.NoError(t, err)
	return res
}

func writeDataset(t *testing.T) string {
	dir := t.TempDir()
	writeNpy(t, dir, "graph/indptr.npy", int64Tensor(t, []int64{0, 3, 6, 8, 9, 9}))
	writeNpy(t, dir, "graph/indices.npy", int64Tensor(t, []int64{2, 3, 4, 2, 3, 4, 0, 1, 1}))
	prob, err := tensor.FromFloat64([]float64{1, 0, 1, 1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	writeNpy(t, dir, "graph/prob.npy", prob)
	feat := make([]float32, 0, 10)
	for i := 0; i < 5; i++ {
		feat = append(feat, float32(i), float32(i))
	}
	writeNpy(t, dir, "node_data/feat.npy", tensor.MustFromFloat32(feat, 5, 2))
	writeNpy(t, dir, "edge_data/weight.npy", tensor.MustFromFloat32(make([]float32, 9), 9, 1))
	writeNpy(t, dir, "set/train.npy", int64Tensor(t, []int64{0, 1, 2, 0, 4, 1}, 3, 2))
	writeNpy(t, dir, "set/test-author.npy", int64Tensor(t, []int64{0, 1}))
	writeNpy(t, dir, "set/test-paper.npy", int64Tensor(t, []int64{2, 3, 4}))
	jsonl := "{\"seed_nodes\": 3, \"labels\": 1}\n\n{\"seed_nodes\": 4, \"labels\": 0}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "set/validation.jsonl"), []byte(jsonl), 0o644))
	path := filepath.Join(dir, "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	d, err := Load(writeDataset(t))
	require.NoError(t, err)
	defer d.Close()

	require.EqualValues(t, 5, d.Graph.NumNodes())
	require.Len(t, d.Graph.EdgeAttribute("prob"), 9)
	require.Len(t, d.Features.Keys(), 2)
	rows, err := d.Features.Read(context.Background(), feature.NodeKey("", "feat"), []int64{4})
	require.NoError(t, err)
	values, err := tensor.AsFloat32(rows)
	require.NoError(t, err)
	require.Equal(t, []float32{4, 4}, values)

	require.Len(t, d.TrainSets, 1)
	train := d.TrainSets[0].(*itemset.ItemSet)
	require.Equal(t, []int64{0, 2, 4}, train.Column(sifgraph.ColumnSeedNodes))
	require.Equal(t, []int64{1, 0, 1}, train.Column(sifgraph.ColumnLabels))

	validation := d.ValidationSets[0].(*itemset.ItemSet)
	require.Equal(t, []int64{3, 4}, validation.Column(sifgraph.ColumnSeedNodes))
	require.Equal(t, []int64{1, 0}, validation.Column(sifgraph.ColumnLabels))

	test := d.TestSets[0]
	require.True(t, test.Keyed())
	require.Equal(t, []string{"author", "paper"}, test.Keys())
	require.Equal(t, 5, test.Len())
}

func TestLoadChecksFeatureRows(t *testing.T) {
	path := writeDataset(t)
	writeNpy(t, filepath.Dir(path), "edge_data/weight.npy", tensor.MustFromFloat32(make([]float32, 4), 4, 1))
	_, err := Load(path)
	var shapeErr errors.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestParseManifestValidation(t *testing.T) {
	_, err := ParseManifest([]byte(`
feature_data:
  - domain: graph
    name: feat
    format: csv
    path: feat.csv
train_sets:
  - - format: numpy
      path: a.npy
    - format: numpy
      path: b.npy
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "feature domain")
	require.Contains(t, err.Error(), "unsupported format")
	require.Contains(t, err.Error(), "only one set is allowed")

	_, err = ParseManifest([]byte("feature_data:\n  - domain: node\n    nmae: feat\n"))
	require.Error(t, err)

	m, err := ParseManifest([]byte("test_sets:\n  - - format: jsonl\n      path: test.jsonl\n"))
	require.NoError(t, err)
	require.Nil(t, m.Graph)
	require.True(t, inMemory(m.TestSets[0][0].InMemory))
}

func TestJSONLRejectsInconsistentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"seed_nodes\": 1}\n{\"seed_nodes\": 2, \"labels\": 1}\n"), 0o644))
	_, err := loadJSONLSet(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{\"seed_nodes\": \"a\"}\n"), 0o644))
	_, err = loadJSONLSet(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{\"src\": 1, \"dst\": 2}\n{\"src\": 3, \"dst\": 4}\n"), 0o644))
	set, err := loadJSONLSet(path)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 4}, set.Column(sifgraph.ColumnDst))
}
