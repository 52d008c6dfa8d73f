// Package ingest loads the six raw HR extracts into typed event records.
//
// Every loader trims whitespace from headers and cells, checks required
// columns up front and fails the whole file on the first unparseable date,
// number or category. Empty cells are data gaps and load as nulls.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// ColEmployeeID is the join key shared by every extract.
const ColEmployeeID = "Employee_ID"

// Frame is a raw extract held as trimmed strings.
type Frame struct {
	file string
	tbl  *table.Table
}

// Open reads the CSV file at path.
func Open(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "input file not found", err).
				WithDetails(map[string]interface{}{"file": path})
		}
		return nil, vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "cannot open input file", err).
			WithDetails(map[string]interface{}{"file": path})
	}
	defer f.Close()
	return Read(filepath.Base(path), f)
}

// Read parses a CSV document. name identifies the source in errors.
func Read(name string, r io.Reader) (*Frame, error) {
	tbl, err := table.ReadCSV(r)
	if err != nil {
		return nil, vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeUnparseableValue, "malformed CSV", err).
			WithDetails(map[string]interface{}{"file": name})
	}
	return &Frame{file: name, tbl: tbl}, nil
}

// File returns the source name used in errors.
func (f *Frame) File() string { return f.file }

// Len returns the number of data rows.
func (f *Frame) Len() int { return f.tbl.Len() }

// Table exposes the raw string table.
func (f *Frame) Table() *table.Table { return f.tbl }

// RequireColumns fails with MISSING_COLUMN naming the first absent column.
func (f *Frame) RequireColumns(cols ...string) error {
	for _, c := range cols {
		if !f.tbl.Has(c) {
			return vwerrors.NewColumnError(vwerrors.CodeMissingColumn, f.file, c, "required column missing")
		}
	}
	return nil
}

func (f *Frame) cellError(code, col string, row int, value, msg string) error {
	return vwerrors.NewColumnError(code, f.file, col, msg).WithDetails(map[string]interface{}{
		// rows are reported 1-based counting the header, as a spreadsheet shows them
		"row":   row + 2,
		"value": value,
	})
}

// Str returns the trimmed cell; ok is false for an empty cell.
func (f *Frame) Str(col string, row int) (string, bool) {
	c, _ := f.tbl.Column(col)
	return c.String(row)
}

// EmployeeID returns the row key. Rows without one cannot be attributed.
func (f *Frame) EmployeeID(row int) (string, bool) {
	return f.Str(ColEmployeeID, row)
}

// Date parses a required date cell.
func (f *Frame) Date(col string, row int) (time.Time, error) {
	s, _ := f.Str(col, row)
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, f.cellError(vwerrors.CodeUnparseableDate, col, row, s, "unparseable date")
	}
	return t, nil
}

// Float parses an optional numeric cell.
func (f *Frame) Float(col string, row int) (types.OptionalFloat, error) {
	s, ok := f.Str(col, row)
	if !ok {
		return types.OptionalFloat{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return types.OptionalFloat{}, f.cellError(vwerrors.CodeUnparseableValue, col, row, s, "unparseable number")
	}
	return types.Some(v), nil
}

// Flag parses an optional boolean cell.
func (f *Frame) Flag(col string, row int) (types.OptionalBool, error) {
	s, ok := f.Str(col, row)
	if !ok {
		return types.OptionalBool{}, nil
	}
	v, err := types.ParseFlag(s)
	if err != nil {
		return types.OptionalBool{}, f.cellError(vwerrors.CodeUnknownCategory, col, row, s, err.Error())
	}
	return types.OptionalBool{Value: v, Valid: true}, nil
}

func (f *Frame) category(col string, row int, err error) error {
	s, _ := f.Str(col, row)
	return f.cellError(vwerrors.CodeUnknownCategory, col, row, s, err.Error())
}

const (
	layoutDMY = "2-1-2006"
	layoutMDY = "1/2/2006"
	layoutISO = "2006-1-2"
)

// ParseDate accepts DD-MM-YYYY, M/D/YYYY and YYYY-MM-DD. The layout is chosen
// from the shape of the value so that day and month are never swapped.
func ParseDate(s string) (time.Time, error) {
	var layout string
	switch {
	case strings.Contains(s, "/"):
		layout = layoutMDY
	case strings.Contains(s, "-"):
		if strings.IndexByte(s, '-') == 4 {
			layout = layoutISO
		} else {
			layout = layoutDMY
		}
	default:
		return time.Time{}, fmt.Errorf("ingest: unrecognised date %q", s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ingest: parse date %q: %w", s, err)
	}
	return t, nil
}
