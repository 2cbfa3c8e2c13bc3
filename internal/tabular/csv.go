// Package tabular reads row-oriented CSV and XLSX files (industry multiple
// tables) and writes XLSX workbooks (DCF sensitivity exports).
package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions controls how ReadCSV splits and cleans rows.
type CSVOptions struct {
	Delimiter rune // ',' when zero
	Comment   rune // lines starting with it are skipped; 0 disables
	TrimSpace bool
}

func (o CSVOptions) reader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	if o.Delimiter != 0 {
		cr.Comma = o.Delimiter
	}
	cr.Comment = o.Comment
	// Multiple tables may carry ragged rows; callers check widths.
	cr.FieldsPerRecord = -1
	return cr
}

// ReadCSV returns every row in r. It stops with ctx's error when ctx is done
// between rows.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	cr := opts.reader(r)
	var rows [][]string
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return rows, eris.Wrap(err, "tabular: csv read cancelled")
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, eris.Wrapf(err, "tabular: csv row %d", line)
		}
		if opts.TrimSpace {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, rec)
	}
}
