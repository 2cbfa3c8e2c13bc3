package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// readBundle decodes a YAML (or JSON) input file into v. Unknown keys are
// rejected so typos surface instead of silently defaulting.
func readBundle(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read input %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return eris.Wrapf(err, "parse input %s", path)
	}
	return nil
}

// writeJSON pretty-prints v to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
