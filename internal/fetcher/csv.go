package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// Record is one data row keyed by header name. Line is the 1-based line of
// the row in the source, counting the header.
type Record struct {
	Line   int
	Fields map[string]string
}

// Get returns the named field, or "" when the row has no such column.
func (r Record) Get(name string) string {
	return r.Fields[name]
}

// StreamCSV reads a headed CSV file and sends each data row to a channel as a
// Record. Short rows leave the missing columns empty. Caller must consume the
// returned channel. Errors are sent on the error channel. Both channels are
// closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	rowCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields
		reader.ReuseRecord = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		names := make([]string, len(header))
		for i, h := range header {
			names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			line, _ := reader.FieldPos(0)
			rec := Record{Line: line, Fields: make(map[string]string, len(names))}
			for i, name := range names {
				if i >= len(row) {
					break
				}
				v := row[i]
				if opts.TrimSpace {
					v = strings.TrimSpace(v)
				}
				rec.Fields[name] = v
			}

			select {
			case rowCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
