package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadFile reads rows from a .csv, .tsv, or .xlsx file, chosen by extension.
// CSV fields are trimmed.
func ReadFile(ctx context.Context, path string) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return ReadXLSX(path, XLSXOptions{})
	}

	opts := CSVOptions{TrimSpace: true, Comment: '#'}
	switch ext {
	case ".csv", "":
	case ".tsv":
		opts.Delimiter = '\t'
	default:
		return nil, eris.Errorf("tabular: unsupported file type %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "tabular: open file")
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f, opts)
}

// Header maps lower-cased, trimmed column names to their index.
func Header(row []string) map[string]int {
	idx := make(map[string]int, len(row))
	for i, name := range row {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}
