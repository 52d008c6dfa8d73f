package features

import (
	"time"

	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// ColDecayedEmotionZone is computed per employee but removed from the master
// table after the join; only Decayed_Vibe feeds the detector.
// TODO: drop the computation or add the column to the feature list once the
// product owner decides whether the emotion-zone sum is wanted.
const ColDecayedEmotionZone = "Decayed_Emotion_Zone"

// SummarizeMood sums emotion-zone values and vibe scores per employee, both
// decayed at LambdaMood from the latest response date.
func SummarizeMood(events []types.MoodEvent) (*table.Table, error) {
	dates := make([]time.Time, len(events))
	for i, e := range events {
		dates[i] = e.ResponseDate
	}
	ref := maxTime(dates)

	keys, groups := groupBy(events, func(e types.MoodEvent) string { return e.EmployeeID })
	zone := make([]float64, len(keys))
	vibe := make([]float64, len(keys))
	for i, k := range keys {
		for _, e := range groups[k] {
			age, err := AgeDays(ref, e.ResponseDate)
			if err != nil {
				return nil, err
			}
			w := Decay(LambdaMood, age)
			if e.Zone != nil {
				zone[i] += e.Zone.Value() * w
			}
			if e.VibeScore.Valid {
				vibe[i] += e.VibeScore.Value * w
			}
		}
	}

	return table.New(
		table.StringColumn(ColEmployeeID, keys, nil),
		table.FloatColumn(ColDecayedEmotionZone, zone, nil),
		table.FloatColumn("Decayed_Vibe", vibe, nil),
	)
}
