// Package types provides the core HR event records and enumerations for vibewatch.
package types

import "time"

// Source identifies one of the six raw HR extracts.
type Source string

const (
	SourceActivity    Source = "activity_tracker"
	SourceLeave       Source = "leave"
	SourceOnboarding  Source = "onboarding"
	SourcePerformance Source = "performance"
	SourceRewards     Source = "rewards"
	SourceMood        Source = "vibemeter"
)

// AllSources lists the sources in merge order.
func AllSources() []Source {
	return []Source{
		SourceActivity,
		SourceLeave,
		SourceOnboarding,
		SourcePerformance,
		SourceRewards,
		SourceMood,
	}
}

// OptionalFloat is a numeric value that may be missing in the source extract.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// Some returns a present OptionalFloat.
func Some(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// OptionalBool is a boolean flag that may be missing in the source extract.
type OptionalBool struct {
	Value bool
	Valid bool
}

// ActivityEvent is one day of collaboration activity for an employee.
type ActivityEvent struct {
	EmployeeID       string
	Date             time.Time
	TeamsMessages    OptionalFloat
	EmailsSent       OptionalFloat
	MeetingsAttended OptionalFloat
	WorkHours        OptionalFloat
}

// LeaveEvent is a single leave taken by an employee.
type LeaveEvent struct {
	EmployeeID string
	LeaveType  string
	StartDate  time.Time
	EndDate    time.Time
	Days       OptionalFloat
}

// OnboardingEvent records an employee's onboarding experience.
type OnboardingEvent struct {
	EmployeeID        string
	JoiningDate       time.Time
	Feedback          *FeedbackLabel
	MentorAssigned    OptionalBool
	TrainingCompleted OptionalBool
}

// PerformanceEvent is one performance review.
type PerformanceEvent struct {
	EmployeeID      string
	Review          Review
	Rating          OptionalFloat
	ManagerFeedback string
	Promotion       OptionalBool
}

// RewardEvent is one award granted to an employee.
type RewardEvent struct {
	EmployeeID string
	AwardType  string
	AwardDate  time.Time
	Points     OptionalFloat
}

// MoodEvent is one vibemeter response.
type MoodEvent struct {
	EmployeeID   string
	ResponseDate time.Time
	Zone         *EmotionZone
	VibeScore    OptionalFloat
}
