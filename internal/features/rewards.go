package features

import (
	"time"

	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// SummarizeRewards counts awards per employee and award type, pivoted into
// "<type>_Count" columns, and sums reward points decayed from the latest award
// date into Total_Decayed_Reward_Points.
func SummarizeRewards(events []types.RewardEvent) (*table.Table, error) {
	dates := make([]time.Time, len(events))
	for i, e := range events {
		dates[i] = e.AwardDate
	}
	ref := maxTime(dates)

	counts := newPivot()
	points := make(map[string]float64)
	for _, e := range events {
		age, err := AgeDays(ref, e.AwardDate)
		if err != nil {
			return nil, err
		}
		if e.Points.Valid {
			points[e.EmployeeID] += e.Points.Value * Decay(LambdaRewards, age)
		}
		counts.ensure(e.EmployeeID)
		if e.AwardType != "" {
			counts.add(e.EmployeeID, e.AwardType, 1)
		}
	}

	cols := counts.columns("_Count")
	keys := counts.keys()
	total := make([]float64, len(keys))
	for i, k := range keys {
		total[i] = points[k]
	}
	cols = append(cols, table.FloatColumn("Total_Decayed_Reward_Points", total, nil))
	return table.New(cols...)
}
