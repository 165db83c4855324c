package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowforge/pkg/schema"
)

// readGraph loads a graph document. Files ending in .yaml or .yml are YAML,
// everything else JSON; "-" reads JSON from stdin.
func readGraph(path string, stdin io.Reader) (*schema.Graph, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse graph %s: %w", path, err)
		}
	}

	var def schema.Graph
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return &def, nil
}

// yamlToJSON re-encodes a YAML document so the graph's json tags apply.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// parseInput reads the trigger input: inline JSON, or @path for a JSON or
// YAML file. Empty means no input.
func parseInput(arg string) (any, error) {
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(name); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			if data, err = yamlToJSON(data); err != nil {
				return nil, fmt.Errorf("parse input: %w", err)
			}
		}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
