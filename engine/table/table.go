// Package table reads the input URL list and writes the result table as
// CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// DefaultURLColumn is the input header searched for thread URLs.
const DefaultURLColumn = "url"

// ReadURLs returns the non-blank cells of the URL column, in file order.
// The header match ignores case and surrounding space. A missing column
// or unreadable CSV is a batch-level fault.
func ReadURLs(r io.Reader, column string) ([]string, error) {
	if column == "" {
		column = DefaultURLColumn
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", domain.ErrNoURLColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), column) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoURLColumn, column)
	}

	var urls []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read urls: %w", err)
		}
		if col >= len(rec) {
			continue
		}
		if u := strings.TrimSpace(rec[col]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// WriteOpts shapes the output table.
type WriteOpts struct {
	IncludeURL bool
	// Replies is the number of ChildN columns; rows with fewer children
	// leave the rest empty.
	Replies int
}

// Header returns the output column names.
func Header(opts WriteOpts) []string {
	h := []string{"Parent"}
	for i := 1; i <= opts.Replies; i++ {
		h = append(h, "Child"+strconv.Itoa(i))
	}
	if opts.IncludeURL {
		h = append(h, "URL")
	}
	return h
}

// WriteRows writes the header and one record per row. Nil child cells are
// written empty.
func WriteRows(w io.Writer, rows []domain.Row, opts WriteOpts) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(opts)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, 0, opts.Replies+2)
	for _, r := range rows {
		rec = append(rec[:0], r.Parent)
		for i := 0; i < opts.Replies; i++ {
			rec = append(rec, r.Child(i))
		}
		if opts.IncludeURL {
			rec = append(rec, r.URL)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
