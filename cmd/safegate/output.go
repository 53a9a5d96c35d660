package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// writeStructured writes v as JSON or YAML when the output format asks for
// it. It returns false for table output, leaving rendering to the caller.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "table", "":
		return false, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("encode json: %w", err)
		}
		return true, nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("encode yaml: %w", err)
		}
		return true, enc.Close()
	default:
		return true, fmt.Errorf("unknown output format %q (want json, table or yaml)", format)
	}
}
