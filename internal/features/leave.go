package features

import (
	"sort"
	"time"

	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// pivot holds per-employee totals for each category of a pivoted extract.
type pivot struct {
	totals map[string]map[string]float64
}

func newPivot() *pivot {
	return &pivot{totals: make(map[string]map[string]float64)}
}

// ensure registers an employee even if it never gets a category total.
func (p *pivot) ensure(employee string) map[string]float64 {
	row, ok := p.totals[employee]
	if !ok {
		row = make(map[string]float64)
		p.totals[employee] = row
	}
	return row
}

func (p *pivot) add(employee, category string, v float64) {
	p.ensure(employee)[category] += v
}

// keys returns the registered employees in ascending order.
func (p *pivot) keys() []string {
	keys := make([]string, 0, len(p.totals))
	for k := range p.totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columns renders one column per category, named category+suffix, with 0 for
// absent employee/category pairs. Categories are ordered by name.
func (p *pivot) columns(suffix string) []*table.Column {
	cats := make(map[string]struct{})
	for _, row := range p.totals {
		for c := range row {
			cats[c] = struct{}{}
		}
	}
	categories := make([]string, 0, len(cats))
	for c := range cats {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	keys := p.keys()
	cols := []*table.Column{table.StringColumn(ColEmployeeID, keys, nil)}
	for _, c := range categories {
		vals := make([]float64, len(keys))
		for i, k := range keys {
			vals[i] = p.totals[k][c]
		}
		cols = append(cols, table.FloatColumn(c+suffix, vals, nil))
	}
	return cols
}

// SummarizeLeave sums decayed leave days per employee and leave type and
// pivots the types into "<type>_Factor" columns. The reference date is the
// latest Leave_End_Date in the extract. Leaves without a type are not pivoted,
// but their employee still gets a zero-filled row.
func SummarizeLeave(events []types.LeaveEvent) (*table.Table, error) {
	ends := make([]time.Time, len(events))
	for i, e := range events {
		ends[i] = e.EndDate
	}
	ref := maxTime(ends)

	p := newPivot()
	for _, e := range events {
		age, err := AgeDays(ref, e.EndDate)
		if err != nil {
			return nil, err
		}
		var factor float64
		if e.Days.Valid {
			factor = e.Days.Value * Decay(LambdaLeave, age)
		}
		p.ensure(e.EmployeeID)
		if e.LeaveType == "" {
			continue
		}
		p.add(e.EmployeeID, e.LeaveType, factor)
	}
	return table.New(p.columns("_Factor")...)
}
