package dataset

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sif/sifgraph"
	"github.com/go-sif/sifgraph/feature"
	"github.com/go-sif/sifgraph/graph"
	"github.com/go-sif/sifgraph/itemset"
	"github.com/go-sif/sifgraph/tensor"
	"github.com/tidwall/gjson"
)

// Dataset is a loaded on-disk dataset. Item set groups hold an *itemset.ItemSet when the group
// has a single untyped set, and an *itemset.ItemSetDict otherwise.
type Dataset struct {
	Graph          *graph.CSCSamplingGraph // nil if the manifest has no graph section
	Features       *feature.Store
	TrainSets      []itemset.Items
	ValidationSets []itemset.Items
	TestSets       []itemset.Items
}

// Close releases memory-mapped features
func (d *Dataset) Close() error {
	return d.Features.Close()
}

// Load reads the manifest at path and every file it names
func Load(path string) (*Dataset, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	return LoadManifest(m, filepath.Dir(path))
}

// LoadManifest loads the files named by m, resolving relative paths against dir
func LoadManifest(m *Manifest, dir string) (*Dataset, error) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	d := &Dataset{Features: feature.NewStore()}
	if m.Graph != nil {
		g, err := loadGraph(m.Graph, resolve)
		if err != nil {
			return nil, err
		}
		d.Graph = g
	}
	for _, fd := range m.FeatureData {
		f, err := loadFeature(fd, resolve(fd.Path))
		if err != nil {
			d.Features.Close()
			return nil, err
		}
		domain, _ := sifgraph.ParseDomain(fd.Domain)
		if err := d.Features.Add(feature.Key{Domain: domain, Type: fd.Type, Name: fd.Name}, f); err != nil {
			d.Features.Close()
			return nil, err
		}
	}
	if d.Graph != nil {
		if err := d.Features.Validate(d.Graph); err != nil {
			d.Features.Close()
			return nil, err
		}
	}
	var err error
	for _, group := range []struct {
		sets [][]TVTSet
		dest *[]itemset.Items
	}{
		{m.TrainSets, &d.TrainSets},
		{m.ValidationSets, &d.ValidationSets},
		{m.TestSets, &d.TestSets},
	} {
		*group.dest, err = loadTVTGroups(group.sets, resolve)
		if err != nil {
			d.Features.Close()
			return nil, err
		}
	}
	return d, nil
}

func readInt64s(path string) ([]int64, error) {
	t, err := tensor.ReadNpyFile(path)
	if err != nil {
		return nil, err
	}
	return tensor.AsInt64(t)
}

func loadGraph(gd *GraphData, resolve func(string) string) (*graph.CSCSamplingGraph, error) {
	conf := &graph.CSCConfig{}
	var err error
	if conf.Indptr, err = readInt64s(resolve(gd.Indptr)); err != nil {
		return nil, fmt.Errorf("unable to load graph indptr: %w", err)
	}
	if conf.Indices, err = readInt64s(resolve(gd.Indices)); err != nil {
		return nil, fmt.Errorf("unable to load graph indices: %w", err)
	}
	if gd.TypePerEdge != "" {
		if conf.TypePerEdge, err = readInt64s(resolve(gd.TypePerEdge)); err != nil {
			return nil, fmt.Errorf("unable to load graph type_per_edge: %w", err)
		}
		if conf.NodeTypeOffset, err = readInt64s(resolve(gd.NodeTypeOffset)); err != nil {
			return nil, fmt.Errorf("unable to load graph node_type_offset: %w", err)
		}
	}
	if len(gd.NodeTypes) > 0 || len(gd.EdgeTypes) > 0 {
		conf.Metadata = &graph.Metadata{NodeTypes: gd.NodeTypes, EdgeTypes: gd.EdgeTypes}
	}
	if len(gd.EdgeAttributes) > 0 {
		conf.EdgeAttributes = make(map[string][]float64, len(gd.EdgeAttributes))
		for name, p := range gd.EdgeAttributes {
			t, err := tensor.ReadNpyFile(resolve(p))
			if err != nil {
				return nil, fmt.Errorf("unable to load edge attribute %q: %w", name, err)
			}
			if conf.EdgeAttributes[name], err = tensor.AsFloat64(t); err != nil {
				return nil, fmt.Errorf("unable to load edge attribute %q: %w", name, err)
			}
		}
	}
	return graph.FromCSC(conf)
}

func loadFeature(fd FeatureData, path string) (sifgraph.Feature, error) {
	if !inMemory(fd.InMemory) {
		f, err := feature.OpenMMap(path, false)
		if err != nil {
			return nil, fmt.Errorf("unable to map feature %q: %w", fd.Name, err)
		}
		return f, nil
	}
	t, err := tensor.ReadNpyFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load feature %q: %w", fd.Name, err)
	}
	return feature.NewInMemory(t), nil
}

func loadTVTGroups(groups [][]TVTSet, resolve func(string) string) ([]itemset.Items, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	out := make([]itemset.Items, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			out = append(out, nil)
			continue
		}
		if group[0].TypeName == "" {
			set, err := loadTVTSet(group[0], resolve(group[0].Path))
			if err != nil {
				return nil, err
			}
			out = append(out, set)
			continue
		}
		sets := make(map[string]*itemset.ItemSet, len(group))
		for _, tvt := range group {
			set, err := loadTVTSet(tvt, resolve(tvt.Path))
			if err != nil {
				return nil, err
			}
			sets[tvt.TypeName] = set
		}
		dict, err := itemset.NewDict(sets)
		if err != nil {
			return nil, err
		}
		out = append(out, dict)
	}
	return out, nil
}

func loadTVTSet(tvt TVTSet, path string) (*itemset.ItemSet, error) {
	switch tvt.Format {
	case FormatNumpy:
		return loadNumpySet(tvt, path)
	case FormatJSONL:
		return loadJSONLSet(path)
	default:
		return nil, fmt.Errorf("unsupported item set format %q", tvt.Format)
	}
}

// loadNumpySet reads a (n,) or (n,k) integer array. Columns are seed_nodes and labels, or src,
// dst and labels when the set is keyed by an edge type.
func loadNumpySet(tvt TVTSet, path string) (*itemset.ItemSet, error) {
	var t tensor.Tensor
	if inMemory(tvt.InMemory) {
		dense, err := tensor.ReadNpyFile(path)
		if err != nil {
			return nil, err
		}
		t = dense
	} else {
		f, err := feature.OpenMMap(path, false)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if t, err = f.Read(context.Background(), nil); err != nil {
			return nil, err
		}
	}
	values, err := tensor.AsInt64(t)
	if err != nil {
		return nil, fmt.Errorf("item set %s: %w", path, err)
	}
	names := []string{sifgraph.ColumnSeedNodes, sifgraph.ColumnLabels}
	if strings.Contains(tvt.TypeName, ":") {
		names = []string{sifgraph.ColumnSrc, sifgraph.ColumnDst, sifgraph.ColumnLabels}
	}
	width := 1
	if shape := t.Shape(); len(shape) == 2 {
		width = shape[1]
	} else if len(shape) > 2 {
		return nil, fmt.Errorf("item set %s has %d dimensions, expected 1 or 2", path, len(shape))
	}
	if width > len(names) || (width == 1 && names[0] == sifgraph.ColumnSrc) {
		return nil, fmt.Errorf("item set %s has %d columns, which cannot be mapped to %v", path, width, names)
	}
	n := t.NumRows()
	columns := make(map[string][]int64, width)
	for c := 0; c < width; c++ {
		col := make([]int64, n)
		for i := range col {
			col[i] = values[i*width+c]
		}
		columns[names[c]] = col
	}
	return itemset.New(columns)
}

var jsonlColumns = []string{sifgraph.ColumnSeedNodes, sifgraph.ColumnLabels, sifgraph.ColumnSrc, sifgraph.ColumnDst}

// loadJSONLSet reads one item per line. The fields present on the first line determine the
// columns, and every following line must have the same fields.
func loadJSONLSet(path string) (*itemset.ItemSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open item set %s: %w", path, err)
	}
	defer f.Close()
	var names []string
	columns := make(map[string][]int64)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !gjson.Valid(text) {
			return nil, fmt.Errorf("%s:%d is not valid JSON", path, line)
		}
		results := gjson.GetMany(text, jsonlColumns...)
		if names == nil {
			for i, r := range results {
				if r.Exists() {
					names = append(names, jsonlColumns[i])
				}
			}
			if len(names) == 0 {
				return nil, fmt.Errorf("%s:%d has none of the fields %v", path, line, jsonlColumns)
			}
		}
		for i, r := range results {
			name := jsonlColumns[i]
			_, wanted := columns[name]
			if !wanted && !contains(names, name) {
				if r.Exists() {
					return nil, fmt.Errorf("%s:%d has unexpected field %s", path, line, name)
				}
				continue
			}
			if r.Type != gjson.Number {
				return nil, fmt.Errorf("%s:%d field %s was not a number. Was: %s", path, line, name, r.Raw)
			}
			columns[name] = append(columns[name], r.Int())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read item set %s: %w", path, err)
	}
	if names == nil {
		return nil, fmt.Errorf("item set %s is empty", path)
	}
	return itemset.New(columns)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
