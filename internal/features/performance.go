package features

import (
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// SummarizePerformance keeps each employee's most recent review: latest year
// first, then H1 < H2 < Annual within the year. Among reviews of the same
// period the earliest in source order wins. The whole winning row is kept,
// nulls included.
func SummarizePerformance(events []types.PerformanceEvent) (*table.Table, error) {
	keys, groups := groupBy(events, func(e types.PerformanceEvent) string { return e.EmployeeID })

	n := len(keys)
	rating := newFloatBuilder("Performance_Rating", n)
	feedback := make([]string, n)
	feedbackOK := make([]bool, n)
	promotion := make([]bool, n)
	promotionOK := make([]bool, n)
	period := make([]string, n)
	year := make([]float64, n)

	for i, k := range keys {
		rows := groups[k]
		best := rows[0]
		for _, e := range rows[1:] {
			if e.Review.After(best.Review) {
				best = e
			}
		}
		rating.add(best.Rating)
		feedback[i], feedbackOK[i] = best.ManagerFeedback, best.ManagerFeedback != ""
		promotion[i], promotionOK[i] = best.Promotion.Value, best.Promotion.Valid
		period[i] = best.Review.Period.String()
		year[i] = float64(best.Review.Year)
	}

	return table.New(
		table.StringColumn(ColEmployeeID, keys, nil),
		rating.column(),
		table.StringColumn("Manager_Feedback", feedback, feedbackOK),
		table.BoolColumn("Promotion_Consideration", promotion, promotionOK),
		table.StringColumn("Last_Review_Period", period, nil),
		table.FloatColumn("Last_Review_Year", year, nil),
	)
}
