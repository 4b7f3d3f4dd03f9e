// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package specfile loads GraphSAGE configurations (a graph schema plus a graphsage.GraphUpdateSpec)
// from YAML or JSON files.
//
// Documents are converted to JSON and validated against an embedded JSON schema before being decoded,
// so typos in field names are reported instead of ignored. Fields omitted from "graph_update" take
// the defaults of graphsage.NewGraphUpdateSpec, except "node_set_names", which defaults to all the
// node sets of the schema.
//
// Example:
//
//	schema:
//	  node_sets:
//	    paper: {features: {hidden_state: 16}}
//	  edge_sets:
//	    cites: {source: paper, target: paper}
//	graph_update:
//	  units: 16
//	  use_pooling: false
package specfile

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/gomlx/gnn/pkg/graphsage"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"k8s.io/klog/v2"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed citations.yaml
var citationsYAML []byte

// File is the content of a configuration file.
type File struct {
	Schema      *graphtensor.Schema        `json:"schema"`
	GraphUpdate *graphsage.GraphUpdateSpec `json:"graph_update"`
}

// Load reads and parses the configuration file at path. See Parse.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	klog.V(1).Infof("loaded configuration %q: %d node sets, %d edge sets", path,
		len(f.Schema.NodeSets), len(f.Schema.EdgeSets))
	return f, nil
}

// Default returns the built-in configuration of a small citation graph.
func Default() *File {
	f, err := Parse(citationsYAML)
	if err != nil {
		panic(errors.WithMessage(err, "invalid built-in configuration"))
	}
	return f
}

// Parse a configuration in YAML or JSON (JSON is a subset of YAML).
//
// Errors in the document are reported wrapping graphtensor.ErrConfiguration.
func Parse(content []byte) (*File, error) {
	asJSON, err := yaml.YAMLToJSON(content)
	if err != nil {
		return nil, graphtensor.Errorf(graphtensor.ErrConfiguration, "failed to parse configuration: %v", err)
	}
	if err := Validate(asJSON); err != nil {
		return nil, err
	}

	f := &File{GraphUpdate: graphsage.NewGraphUpdateSpec(nil, graphtensor.Target, 0)}
	if err := json.Unmarshal(asJSON, f); err != nil {
		return nil, graphtensor.Errorf(graphtensor.ErrConfiguration, "failed to decode configuration: %v", err)
	}
	if err := f.Schema.Validate(); err != nil {
		return nil, err
	}
	if len(f.GraphUpdate.NodeSetNames) == 0 {
		f.GraphUpdate.NodeSetNames = f.Schema.NodeSetNames()
	}
	return f, nil
}

// Validate the JSON document against the configuration JSON schema.
func Validate(document []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(document))
	if err != nil {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "failed to validate configuration: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			msgs = append(msgs, resultErr.String())
		}
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Plan resolves the GraphUpdateSpec for the Schema of the file.
func (f *File) Plan() (*graphsage.GraphUpdatePlan, error) {
	return f.GraphUpdate.Resolve(f.Schema)
}
