package features

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// ColEmployeeID is the join key of every summary.
const ColEmployeeID = "Employee_ID"

// Activity counters and the aggregates computed for each, in output order.
var (
	activityCounters = []string{"Teams_Messages_Sent", "Emails_Sent", "Meetings_Attended", "Work_Hours"}
	activityAggs     = []string{"sum", "mean", "median", "std"}
)

// groupBy buckets events by employee id, keeping source order inside each
// bucket. Keys are returned sorted ascending.
func groupBy[E any](events []E, key func(E) string) ([]string, map[string][]E) {
	groups := make(map[string][]E)
	for _, e := range events {
		k := key(e)
		groups[k] = append(groups[k], e)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}

// aggregate computes sum, mean, median and sample standard deviation over the
// present values. Sum of nothing is 0; mean and median of nothing are null;
// a standard deviation that is undefined (fewer than two values) is 0.
func aggregate(vals []float64) (sum, mean, median, std types.OptionalFloat) {
	data := stats.Float64Data(vals)
	s, _ := stats.Sum(data)
	sum = types.Some(s)
	std = types.Some(0)
	if len(vals) == 0 {
		return sum, mean, median, std
	}
	m, _ := stats.Mean(data)
	mean = types.Some(m)
	med, _ := stats.Median(data)
	median = types.Some(med)
	if len(vals) > 1 {
		sd, _ := stats.StandardDeviationSample(data)
		std = types.Some(sd)
	}
	return sum, mean, median, std
}

type floatBuilder struct {
	name  string
	vals  []float64
	valid []bool
}

func newFloatBuilder(name string, n int) *floatBuilder {
	return &floatBuilder{name: name, vals: make([]float64, 0, n), valid: make([]bool, 0, n)}
}

func (b *floatBuilder) add(v types.OptionalFloat) {
	b.vals = append(b.vals, v.Value)
	b.valid = append(b.valid, v.Valid)
}

func (b *floatBuilder) column() *table.Column {
	return table.FloatColumn(b.name, b.vals, b.valid)
}

// SummarizeActivity aggregates daily activity per employee.
func SummarizeActivity(events []types.ActivityEvent) (*table.Table, error) {
	keys, groups := groupBy(events, func(e types.ActivityEvent) string { return e.EmployeeID })

	builders := make([]*floatBuilder, 0, len(activityCounters)*len(activityAggs))
	for _, c := range activityCounters {
		for _, a := range activityAggs {
			builders = append(builders, newFloatBuilder(c+"_"+a, len(keys)))
		}
	}
	last := make([]time.Time, len(keys))
	count := make([]float64, len(keys))

	for i, k := range keys {
		rows := groups[k]
		counters := [][]float64{nil, nil, nil, nil}
		for _, e := range rows {
			for j, v := range []types.OptionalFloat{e.TeamsMessages, e.EmailsSent, e.MeetingsAttended, e.WorkHours} {
				if v.Valid {
					counters[j] = append(counters[j], v.Value)
				}
			}
		}
		for j, vals := range counters {
			sum, mean, median, std := aggregate(vals)
			b := builders[j*len(activityAggs):]
			b[0].add(sum)
			b[1].add(mean)
			b[2].add(median)
			b[3].add(std)
		}

		dates := make([]time.Time, len(rows))
		for j, e := range rows {
			dates[j] = e.Date
		}
		last[i] = maxTime(dates)
		count[i] = float64(len(rows))
	}

	cols := []*table.Column{table.StringColumn(ColEmployeeID, keys, nil)}
	for _, b := range builders {
		cols = append(cols, b.column())
	}
	cols = append(cols,
		table.TimeColumn("Last_activity_entry", last, nil),
		table.FloatColumn("Total_activity_entry", count, nil),
	)
	return table.New(cols...)
}
