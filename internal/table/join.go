package table

import (
	"fmt"
	"sort"
)

// Keys returns the string values of the key column in row order.
func (t *Table) Keys(key string) ([]string, error) {
	c, ok := t.Column(key)
	if !ok {
		return nil, fmt.Errorf("table: key column %q not found", key)
	}
	if c.kind != KindString {
		return nil, fmt.Errorf("table: key column %q is %s, want string", key, c.kind)
	}
	keys := make([]string, c.Len())
	for i := range keys {
		k, ok := c.String(i)
		if !ok {
			return nil, fmt.Errorf("table: key column %q has a null at row %d", key, i)
		}
		keys[i] = k
	}
	return keys, nil
}

// OuterJoin full-outer-joins tables on the string column key. Every table must
// hold each key at most once. The result has one row per distinct key across
// all inputs, sorted ascending by key; cells absent from a table are null.
// Non-key column names must be unique across inputs.
func OuterJoin(key string, tables ...*Table) (*Table, error) {
	perTable := make([]map[string]int, len(tables))
	seen := make(map[string]struct{})
	for ti, t := range tables {
		keys, err := t.Keys(key)
		if err != nil {
			return nil, err
		}
		pos := make(map[string]int, len(keys))
		for i, k := range keys {
			if _, dup := pos[k]; dup {
				return nil, fmt.Errorf("table: duplicate key %q in join input %d", k, ti)
			}
			pos[k] = i
			seen[k] = struct{}{}
		}
		perTable[ti] = pos
	}

	union := make([]string, 0, len(seen))
	for k := range seen {
		union = append(union, k)
	}
	sort.Strings(union)

	cols := []*Column{StringColumn(key, union, nil)}
	for ti, t := range tables {
		idx := make([]int, len(union))
		for i, k := range union {
			if j, ok := perTable[ti][k]; ok {
				idx[i] = j
			} else {
				idx[i] = -1
			}
		}
		for _, c := range t.cols {
			if c.name == key {
				continue
			}
			cols = append(cols, c.take(idx))
		}
	}
	return New(cols...)
}

// SortBy returns the row order that sorts t ascending by the float column name.
// Nulls sort last. Ties keep their original order.
func (t *Table) SortBy(name string) ([]int, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("table: column %q not found", name)
	}
	if c.kind != KindFloat {
		return nil, fmt.Errorf("table: cannot sort by %s column %q", c.kind, name)
	}
	idx := identity(t.rows)
	sort.SliceStable(idx, func(a, b int) bool {
		va, oka := c.Float(idx[a])
		vb, okb := c.Float(idx[b])
		if oka != okb {
			return oka
		}
		return oka && va < vb
	})
	return idx, nil
}
