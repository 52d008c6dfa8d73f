// Package table provides a small immutable-by-convention columnar table used to
// pass per-employee data between pipeline stages.
package table

import (
	"fmt"
	"math"
	"time"
)

// Kind is the physical type of a column.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindTime
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Column is a named, typed vector with a validity mask. Only the slice that
// matches Kind is populated.
type Column struct {
	name  string
	kind  Kind
	strs  []string
	nums  []float64
	times []time.Time
	bools []bool
	valid []bool
}

func allValid(n int) []bool {
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v
}

func validOrAll(valid []bool, n int) []bool {
	if valid == nil {
		return allValid(n)
	}
	if len(valid) != n {
		panic(fmt.Sprintf("table: validity length %d does not match %d values", len(valid), n))
	}
	return append([]bool(nil), valid...)
}

// StringColumn creates a string column. A nil valid mask marks every value present.
func StringColumn(name string, vals []string, valid []bool) *Column {
	return &Column{name: name, kind: KindString, strs: append([]string(nil), vals...), valid: validOrAll(valid, len(vals))}
}

// FloatColumn creates a numeric column. NaN values are stored as nulls.
func FloatColumn(name string, vals []float64, valid []bool) *Column {
	c := &Column{name: name, kind: KindFloat, nums: append([]float64(nil), vals...), valid: validOrAll(valid, len(vals))}
	for i, v := range c.nums {
		if math.IsNaN(v) {
			c.valid[i] = false
		}
	}
	return c
}

// TimeColumn creates a date column.
func TimeColumn(name string, vals []time.Time, valid []bool) *Column {
	return &Column{name: name, kind: KindTime, times: append([]time.Time(nil), vals...), valid: validOrAll(valid, len(vals))}
}

// BoolColumn creates a boolean column.
func BoolColumn(name string, vals []bool, valid []bool) *Column {
	return &Column{name: name, kind: KindBool, bools: append([]bool(nil), vals...), valid: validOrAll(valid, len(vals))}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column type.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int { return len(c.valid) }

// Valid reports whether row i holds a value.
func (c *Column) Valid(i int) bool { return c.valid[i] }

// NullCount returns the number of missing values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.valid {
		if !v {
			n++
		}
	}
	return n
}

// Float returns the numeric value at row i.
func (c *Column) Float(i int) (float64, bool) {
	if c.kind != KindFloat || !c.valid[i] {
		return math.NaN(), false
	}
	return c.nums[i], true
}

// String returns the string value at row i.
func (c *Column) String(i int) (string, bool) {
	if c.kind != KindString || !c.valid[i] {
		return "", false
	}
	return c.strs[i], true
}

// Time returns the date value at row i.
func (c *Column) Time(i int) (time.Time, bool) {
	if c.kind != KindTime || !c.valid[i] {
		return time.Time{}, false
	}
	return c.times[i], true
}

// Bool returns the boolean value at row i.
func (c *Column) Bool(i int) (bool, bool) {
	if c.kind != KindBool || !c.valid[i] {
		return false, false
	}
	return c.bools[i], true
}

// Floats returns a copy of the numeric values with NaN for nulls.
func (c *Column) Floats() []float64 {
	out := make([]float64, c.Len())
	for i := range out {
		out[i], _ = c.Float(i)
	}
	return out
}

// Renamed returns a copy of the column under a new name.
func (c *Column) Renamed(name string) *Column {
	cp := c.take(identity(c.Len()))
	cp.name = name
	return cp
}

// take returns a new column holding rows idx; a negative index yields a null.
func (c *Column) take(idx []int) *Column {
	out := &Column{name: c.name, kind: c.kind, valid: make([]bool, len(idx))}
	switch c.kind {
	case KindString:
		out.strs = make([]string, len(idx))
	case KindFloat:
		out.nums = make([]float64, len(idx))
	case KindTime:
		out.times = make([]time.Time, len(idx))
	case KindBool:
		out.bools = make([]bool, len(idx))
	}
	for i, j := range idx {
		if j < 0 {
			if c.kind == KindFloat {
				out.nums[i] = math.NaN()
			}
			continue
		}
		out.valid[i] = c.valid[j]
		switch c.kind {
		case KindString:
			out.strs[i] = c.strs[j]
		case KindFloat:
			out.nums[i] = c.nums[j]
		case KindTime:
			out.times[i] = c.times[j]
		case KindBool:
			out.bools[i] = c.bools[j]
		}
	}
	return out
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Table is an ordered set of equal-length columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New assembles a table from columns of equal length with unique names.
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, fmt.Errorf("table: column %q has %d rows, expected %d", c.name, c.Len(), t.rows)
		}
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c.name)
		}
		t.index[c.name] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// MustNew is New that panics on error. Intended for statically-shaped tables.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Len returns the row count.
func (t *Table) Len() int { return t.rows }

// Width returns the column count.
func (t *Table) Width() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

// Columns returns the columns in order.
func (t *Table) Columns() []*Column {
	return append([]*Column(nil), t.cols...)
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// With returns a new table with c appended, or replacing the column of the same name.
func (t *Table) With(c *Column) (*Table, error) {
	if t.rows != c.Len() && len(t.cols) > 0 {
		return nil, fmt.Errorf("table: column %q has %d rows, expected %d", c.name, c.Len(), t.rows)
	}
	cols := t.Columns()
	if i, ok := t.index[c.name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	return New(cols...)
}

// Drop returns a new table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	var cols []*Column
	for _, c := range t.cols {
		if !skip[c.name] {
			cols = append(cols, c)
		}
	}
	out := MustNew(cols...)
	if len(cols) == 0 {
		out.rows = t.rows
	}
	return out
}

// Take returns a new table containing rows idx in that order.
func (t *Table) Take(idx []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.take(idx)
	}
	out := MustNew(cols...)
	out.rows = len(idx)
	return out
}
