// Package detect scores the master feature table with an isolation forest and
// explains every flagged employee with exact TreeSHAP attributions.
package detect

import (
	"math"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Encode adds the ordinal and 0/1 encodings of the categorical master-table
// columns. Input columns that are absent are treated as all-null. An unknown
// non-empty label is an input error; Good onboarding feedback has no encoding
// and becomes null so it is imputed.
func Encode(master *table.Table) (*table.Table, error) {
	n := master.Len()
	out := master

	add := func(name string, vals []float64) error {
		var err error
		out, err = out.With(table.FloatColumn(name, vals, nil))
		return err
	}
	nulls := func() []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = math.NaN()
		}
		return v
	}

	onboarding := nulls()
	if c, ok := master.Column("Onboarding_Feedback"); ok {
		for i := 0; i < n; i++ {
			s, ok := cellString(c, i)
			if !ok {
				continue
			}
			label, err := types.ParseFeedbackLabel(s)
			if err != nil {
				return nil, encodeError("Onboarding_Feedback", i, s, err)
			}
			if v, ok := label.Ordinal(); ok {
				onboarding[i] = v
			}
		}
	}
	if err := add("Onboarding_Feedback_Encoded", onboarding); err != nil {
		return nil, err
	}

	for _, col := range []string{"Performance_Rating", "Manager_Feedback"} {
		encoded := nulls()
		if c, ok := master.Column(col); ok {
			for i := 0; i < n; i++ {
				if v, ok := c.Float(i); ok {
					encoded[i] = v
					continue
				}
				s, ok := cellString(c, i)
				if !ok {
					continue
				}
				if v, ok := parseNumber(s); ok {
					encoded[i] = v
					continue
				}
				label, err := types.ParseRatingLabel(s)
				if err != nil {
					return nil, encodeError(col, i, s, err)
				}
				encoded[i] = label.Ordinal()
			}
		}
		if err := add(col+"_Encoded", encoded); err != nil {
			return nil, err
		}
	}

	for _, col := range []string{"Mentor_Assigned", "Initial_Training_Completed", "Promotion_Consideration"} {
		encoded := nulls()
		if c, ok := master.Column(col); ok {
			for i := 0; i < n; i++ {
				if b, ok := c.Bool(i); ok {
					encoded[i] = boolValue(b)
					continue
				}
				s, ok := cellString(c, i)
				if !ok {
					continue
				}
				b, err := types.ParseFlag(s)
				if err != nil {
					return nil, encodeError(col, i, s, err)
				}
				encoded[i] = boolValue(b)
			}
		}
		if err := add(col+"_Encoded", encoded); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func cellString(c *table.Column, i int) (string, bool) {
	if c.Kind() != table.KindString {
		return "", false
	}
	return c.String(i)
}

func encodeError(col string, row int, value string, err error) error {
	return vwerrors.New(vwerrors.ErrCategoryInput, vwerrors.CodeUnknownCategory, err.Error()).
		WithDetails(map[string]interface{}{"column": col, "row": row + 2, "value": value})
}
