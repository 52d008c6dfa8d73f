// Package features turns the six raw HR extracts into the per-employee master
// feature table.
//
// Each extract is summarised by a pure function returning a table keyed by
// Employee_ID; Merge outer-joins the summaries. Time-decayed features weight an
// event by exp(-lambda * age) where age is measured in whole days from the
// latest date seen in that extract, not from wall-clock time.
package features

import (
	"math"
	"time"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
)

// Decay rates per feature family.
const (
	LambdaLeave      = 0.01
	LambdaOnboarding = 0.01
	LambdaRewards    = 0.01
	LambdaMood       = 0.005
)

// Decay returns exp(-lambda*ageDays). The result is in (0, 1] for lambda >= 0
// and ageDays >= 0.
func Decay(lambda, ageDays float64) float64 {
	return math.Exp(-lambda * ageDays)
}

const day = 24 * time.Hour

// AgeDays returns the number of whole days from t to ref. A date after the
// reference is a broken invariant and is reported as an input error.
func AgeDays(ref, t time.Time) (float64, error) {
	d := ref.Sub(t)
	if d < 0 {
		return 0, vwerrors.New(vwerrors.ErrCategoryInput, vwerrors.CodeNegativeAge, "event date after reference date").
			WithDetails(map[string]interface{}{
				"reference": ref.Format("2006-01-02"),
				"date":      t.Format("2006-01-02"),
			})
	}
	return float64(d / day), nil
}

// maxTime returns the latest of ts, or the zero time for an empty slice.
func maxTime(ts []time.Time) time.Time {
	var m time.Time
	for i, t := range ts {
		if i == 0 || t.After(m) {
			m = t
		}
	}
	return m
}
