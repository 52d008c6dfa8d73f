package detect

import (
	"math"
	"strconv"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/table"
)

// FeatureVersion identifies the feature list below. Changing the list or its
// order changes every score and must bump the version.
const FeatureVersion = "v1"

// Features is the ordered model input. Sum variants of messages and emails are
// left out in favour of mean and median.
var Features = []string{
	"Teams_Messages_Sent_mean",
	"Teams_Messages_Sent_median",
	"Emails_Sent_mean",
	"Emails_Sent_median",
	"Meetings_Attended_sum",
	"Meetings_Attended_mean",
	"Meetings_Attended_median",
	"Work_Hours_mean",
	"Work_Hours_median",
	"Work_Hours_std",
	"Annual Leave_Factor",
	"Casual Leave_Factor",
	"Sick Leave_Factor",
	"Unpaid Leave_Factor",
	"Days_Since_Joining",
	"Onboarding_Factor",
	"Total_Decayed_Reward_Points",
	"Decayed_Vibe",
	"Onboarding_Feedback_Encoded",
	"Manager_Feedback_Encoded",
}

var displayNames = map[string]string{
	"Teams_Messages_Sent_mean":    "Average Daily Teams Messages",
	"Teams_Messages_Sent_median":  "Median Daily Teams Messages",
	"Emails_Sent_mean":            "Average Daily Emails Sent",
	"Emails_Sent_median":          "Median Daily Emails Sent",
	"Meetings_Attended_sum":       "Total Meetings Attended",
	"Meetings_Attended_mean":      "Average Meetings Attended per Day",
	"Meetings_Attended_median":    "Median Meetings Attended per Day",
	"Work_Hours_mean":             "Average Work Hours per Day",
	"Work_Hours_median":           "Median Work Hours per Day",
	"Work_Hours_std":              "Work Hours Variability (Std Dev)",
	"Annual Leave_Factor":         "Annual Leave Impact Factor",
	"Casual Leave_Factor":         "Casual Leave Impact Factor",
	"Sick Leave_Factor":           "Sick Leave Impact Factor",
	"Unpaid Leave_Factor":         "Unpaid Leave Impact Factor",
	"Days_Since_Joining":          "Tenure (Days Since Joining)",
	"Onboarding_Factor":           "Onboarding Experience Score",
	"Total_Decayed_Reward_Points": "Total Decayed Reward Points",
	"Decayed_Vibe":                "Decayed Vibe Score",
	"Onboarding_Feedback_Encoded": "Encoded Onboarding Feedback",
	"Manager_Feedback_Encoded":    "Encoded Manager Feedback",
}

// DisplayName returns the human-readable name of a feature key, or the key
// itself when it has none.
func DisplayName(key string) string {
	if name, ok := displayNames[key]; ok {
		return name
	}
	return key
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// floats returns a numeric view of a column, parsing string columns read from
// CSV. A missing column is all-null.
func floats(tbl *table.Table, name string) ([]float64, error) {
	c, ok := tbl.Column(name)
	if !ok {
		out := make([]float64, tbl.Len())
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}
	parsed, err := c.ParseFloats()
	if err != nil {
		return nil, vwerrors.New(vwerrors.ErrCategoryInput, vwerrors.CodeUnparseableValue, err.Error()).
			WithDetails(map[string]interface{}{"column": name})
	}
	return parsed.Floats(), nil
}

// Matrix extracts the feature columns as a row-major matrix with NaN for
// missing values.
func Matrix(tbl *table.Table, features []string) ([][]float64, error) {
	cols := make([][]float64, len(features))
	for j, name := range features {
		v, err := floats(tbl, name)
		if err != nil {
			return nil, err
		}
		cols[j] = v
	}
	x := make([][]float64, tbl.Len())
	for i := range x {
		row := make([]float64, len(features))
		for j := range features {
			row[j] = cols[j][i]
		}
		x[i] = row
	}
	return x, nil
}
