package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions controls CSV parsing. The zero value reads a comma-delimited
// file with a header row.
type CSVOptions struct {
	// Delimiter is the field separator. Defaults to ','.
	Delimiter rune
	// Comment, when non-zero, causes lines starting with this rune to be
	// skipped.
	Comment rune
	// LazyQuotes permits non-conforming quoting, which some agency exports
	// need.
	LazyQuotes bool
	// TrimSpace trims leading/trailing whitespace from every field.
	TrimSpace bool
}

// StreamCSV reads r row by row, invoking fn for each data row with the
// header and the row's fields. Rows with a field count different from the
// header are passed through as-is; fn decides whether to tolerate them.
// Returns the first error from fn, which aborts the stream.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions, fn func(header, row []string) error) error {
	cr := csv.NewReader(trimReader{bufio.NewReader(r)})
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.Comment = opts.Comment
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "fetcher: read csv header")
	}
	if opts.TrimSpace {
		trimFields(header)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "fetcher: read csv row")
		}
		if opts.TrimSpace {
			trimFields(row)
		}
		if err := fn(header, row); err != nil {
			return err
		}
	}
}

func trimFields(fields []string) {
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
}

// trimReader strips a UTF-8 BOM, which several agency exports carry.
type trimReader struct {
	r *bufio.Reader
}

func (t trimReader) Read(p []byte) (int, error) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	if peek, err := t.r.Peek(3); err == nil && string(peek) == string(bom) {
		_, _ = t.r.Discard(3)
	}
	return t.r.Read(p)
}
