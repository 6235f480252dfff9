// Package dataset loads on-disk graph datasets. A dataset is described by a YAML manifest which
// names the files holding the graph structure, its features, and its training, validation and
// test item sets. Paths are relative to the manifest.
package dataset

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-sif/sifgraph"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	// FormatNumpy files are .npy arrays
	FormatNumpy = "numpy"
	// FormatJSONL files hold one JSON object per line
	FormatJSONL = "jsonl"
)

// FeatureData describes a single feature file
type FeatureData struct {
	Domain   string `yaml:"domain"`
	Type     string `yaml:"type"` // empty for homogeneous graphs
	Name     string `yaml:"name"`
	Format   string `yaml:"format"`
	InMemory *bool  `yaml:"in_memory"` // defaults to true
	Path     string `yaml:"path"`
}

// TVTSet describes a single training, validation or test set file
type TVTSet struct {
	TypeName string `yaml:"type_name"` // node type, or edge type for node pairs. Empty for homogeneous graphs.
	Format   string `yaml:"format"`
	InMemory *bool  `yaml:"in_memory"` // defaults to true
	Path     string `yaml:"path"`
}

// GraphData names the .npy files of a CSC graph
type GraphData struct {
	Indptr         string            `yaml:"indptr"`
	Indices        string            `yaml:"indices"`
	TypePerEdge    string            `yaml:"type_per_edge"`
	NodeTypeOffset string            `yaml:"node_type_offset"`
	NodeTypes      map[string]int64  `yaml:"node_types"`
	EdgeTypes      map[string]int64  `yaml:"edge_types"`
	EdgeAttributes map[string]string `yaml:"edge_attributes"`
}

// Manifest is the YAML description of a dataset
type Manifest struct {
	Graph          *GraphData    `yaml:"graph"`
	FeatureData    []FeatureData `yaml:"feature_data"`
	TrainSets      [][]TVTSet    `yaml:"train_sets"`
	ValidationSets [][]TVTSet    `yaml:"validation_sets"`
	TestSets       [][]TVTSet    `yaml:"test_sets"`
}

// ParseManifest decodes a YAML manifest. Unknown fields are rejected, so that typos do not
// silently drop data.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("YAML syntax error in dataset manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadManifest reads and decodes the manifest at path
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read dataset manifest '%s': %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset manifest '%s': %w", path, err)
	}
	return m, nil
}

func inMemory(flag *bool) bool {
	return flag == nil || *flag
}

// Validate checks the manifest for structural errors, reporting all of them at once
func (m *Manifest) Validate() error {
	var errs *multierror.Error
	if m.Graph != nil {
		if m.Graph.Indptr == "" || m.Graph.Indices == "" {
			errs = multierror.Append(errs, fmt.Errorf("graph requires both indptr and indices"))
		}
		if (m.Graph.TypePerEdge == "") != (m.Graph.NodeTypeOffset == "") {
			errs = multierror.Append(errs, fmt.Errorf("graph requires type_per_edge and node_type_offset together"))
		}
	}
	seen := make(map[string]bool)
	for i, fd := range m.FeatureData {
		if _, err := sifgraph.ParseDomain(fd.Domain); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("feature_data[%d]: %w", i, err))
		}
		if fd.Format != FormatNumpy {
			errs = multierror.Append(errs, fmt.Errorf("feature_data[%d]: unsupported format %q", i, fd.Format))
		}
		if fd.Name == "" || fd.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("feature_data[%d]: name and path are required", i))
		}
		key := strings.Join([]string{fd.Domain, fd.Type, fd.Name}, "/")
		if seen[key] {
			errs = multierror.Append(errs, fmt.Errorf("feature_data[%d]: feature %s is declared twice", i, key))
		}
		seen[key] = true
	}
	groups := map[string][][]TVTSet{
		"train_sets":      m.TrainSets,
		"validation_sets": m.ValidationSets,
		"test_sets":       m.TestSets,
	}
	for _, name := range sifgraph.SortedNodeTypes(groups) {
		for i, group := range groups[name] {
			untyped := 0
			for j, set := range group {
				if set.TypeName == "" {
					untyped++
				}
				if set.Format != FormatNumpy && set.Format != FormatJSONL {
					errs = multierror.Append(errs, fmt.Errorf("%s[%d][%d]: unsupported format %q", name, i, j, set.Format))
				}
				if set.Path == "" {
					errs = multierror.Append(errs, fmt.Errorf("%s[%d][%d]: path is required", name, i, j))
				}
			}
			if untyped > 0 && len(group) > 1 {
				errs = multierror.Append(errs, fmt.Errorf("%s[%d]: only one set is allowed if type_name is not specified", name, i))
			}
		}
	}
	return errs.ErrorOrNil()
}
