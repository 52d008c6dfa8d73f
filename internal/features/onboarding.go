package features

import (
	"time"

	"github.com/vibewatch/vibewatch/internal/table"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// SummarizeOnboarding keeps the first joining date and the last recorded
// feedback, mentor and training values per employee, in source order. Tenure
// is measured from the latest joining date across employees and the
// onboarding factor is the feedback score decayed by tenure.
func SummarizeOnboarding(events []types.OnboardingEvent) (*table.Table, error) {
	keys, groups := groupBy(events, func(e types.OnboardingEvent) string { return e.EmployeeID })

	n := len(keys)
	joined := make([]time.Time, n)
	feedback := make([]string, n)
	feedbackOK := make([]bool, n)
	mentor := make([]bool, n)
	mentorOK := make([]bool, n)
	training := make([]bool, n)
	trainingOK := make([]bool, n)
	scores := make([]*types.FeedbackLabel, n)

	for i, k := range keys {
		rows := groups[k]
		joined[i] = rows[0].JoiningDate
		for _, e := range rows {
			if e.Feedback != nil {
				scores[i] = e.Feedback
			}
			if e.MentorAssigned.Valid {
				mentor[i], mentorOK[i] = e.MentorAssigned.Value, true
			}
			if e.TrainingCompleted.Valid {
				training[i], trainingOK[i] = e.TrainingCompleted.Value, true
			}
		}
		if scores[i] != nil {
			feedback[i], feedbackOK[i] = string(*scores[i]), true
		}
	}

	ref := maxTime(joined)
	days := newFloatBuilder("Days_Since_Joining", n)
	factor := newFloatBuilder("Onboarding_Factor", n)
	for i := range keys {
		age, err := AgeDays(ref, joined[i])
		if err != nil {
			return nil, err
		}
		days.add(types.Some(age))
		if scores[i] == nil {
			factor.add(types.OptionalFloat{})
			continue
		}
		factor.add(types.Some(scores[i].Score() * Decay(LambdaOnboarding, age)))
	}

	return table.New(
		table.StringColumn(ColEmployeeID, keys, nil),
		table.TimeColumn("Joining_Date", joined, nil),
		table.StringColumn("Onboarding_Feedback", feedback, feedbackOK),
		table.BoolColumn("Mentor_Assigned", mentor, mentorOK),
		table.BoolColumn("Initial_Training_Completed", training, trainingOK),
		days.column(),
		factor.column(),
	)
}
