package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DateLayout is the layout used when writing date cells.
const DateLayout = "2006-01-02"

// Format renders row i the way it is written to CSV. Nulls render empty.
func (c *Column) Format(i int) string {
	if !c.valid[i] {
		return ""
	}
	switch c.kind {
	case KindString:
		return c.strs[i]
	case KindFloat:
		return strconv.FormatFloat(c.nums[i], 'f', -1, 64)
	case KindTime:
		return c.times[i].Format(DateLayout)
	case KindBool:
		if c.bools[i] {
			return "True"
		}
		return "False"
	}
	return ""
}

// WriteCSV writes a header row followed by every row of t.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, len(t.cols))
	for i := 0; i < t.rows; i++ {
		for j, c := range t.cols {
			record[j] = c.Format(i)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a headed CSV document into a table of string columns. Header
// names and cells are trimmed of surrounding whitespace; empty cells are null.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("table: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("table: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	vals := make([][]string, len(header))
	valid := make([][]bool, len(header))
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: read row: %w", err)
		}
		for j := range header {
			cell := strings.TrimSpace(record[j])
			vals[j] = append(vals[j], cell)
			valid[j] = append(valid[j], cell != "")
		}
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		if vals[j] == nil {
			vals[j], valid[j] = []string{}, []bool{}
		}
		cols[j] = StringColumn(name, vals[j], valid[j])
	}
	return New(cols...)
}

// ParseFloats converts a string column into a float column. Empty cells stay
// null; any other unparseable cell is reported with its row number.
func (c *Column) ParseFloats() (*Column, error) {
	if c.kind == KindFloat {
		return c, nil
	}
	if c.kind != KindString {
		return nil, fmt.Errorf("table: cannot parse %s column %q as float", c.kind, c.name)
	}
	nums := make([]float64, c.Len())
	valid := make([]bool, c.Len())
	for i := range nums {
		s, ok := c.String(i)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &ParseError{Column: c.name, Row: i, Value: s}
		}
		nums[i], valid[i] = v, true
	}
	return FloatColumn(c.name, nums, valid), nil
}

// ParseError reports a cell that could not be converted.
type ParseError struct {
	Column string
	Row    int
	Value  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table: column %q row %d: cannot parse %q", e.Column, e.Row, e.Value)
}

// WriteCSVFile writes t to path through a temporary file in the same
// directory, so readers never observe a partially written table.
func (t *Table) WriteCSVFile(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("table: create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("table: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = t.WriteCSV(w); err != nil {
		return fmt.Errorf("table: write %s: %w", path, err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("table: flush %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("table: sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("table: close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("table: rename into %s: %w", path, err)
	}
	return nil
}

// ReadCSVFile reads the CSV document at path.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(bufio.NewReader(f))
}
