package ingest

import (
	"io"

	"github.com/vibewatch/vibewatch/pkg/types"
)

// Required columns per extract.
var (
	ActivityColumns    = []string{ColEmployeeID, "Date", "Teams_Messages_Sent", "Emails_Sent", "Meetings_Attended", "Work_Hours"}
	LeaveColumns       = []string{ColEmployeeID, "Leave_Type", "Leave_Start_Date", "Leave_End_Date", "Leave_Days"}
	OnboardingColumns  = []string{ColEmployeeID, "Joining_Date", "Onboarding_Feedback", "Mentor_Assigned", "Initial_Training_Completed"}
	PerformanceColumns = []string{ColEmployeeID, "Review_Period", "Performance_Rating", "Manager_Feedback", "Promotion_Consideration"}
	RewardColumns      = []string{ColEmployeeID, "Award_Type", "Award_Date", "Reward_Points"}
	MoodColumns        = []string{ColEmployeeID, "Response_Date", "Emotion_Zone", "Vibe_Score"}
)

// Columns returns the required columns of a source.
func Columns(src types.Source) []string {
	switch src {
	case types.SourceActivity:
		return ActivityColumns
	case types.SourceLeave:
		return LeaveColumns
	case types.SourceOnboarding:
		return OnboardingColumns
	case types.SourcePerformance:
		return PerformanceColumns
	case types.SourceRewards:
		return RewardColumns
	case types.SourceMood:
		return MoodColumns
	}
	return nil
}

// decode runs fn for every row carrying an employee id. Rows with an empty key
// are skipped; they cannot be joined to anyone.
func decode(f *Frame, cols []string, fn func(id string, row int) error) error {
	if err := f.RequireColumns(cols...); err != nil {
		return err
	}
	for row := 0; row < f.Len(); row++ {
		id, ok := f.EmployeeID(row)
		if !ok {
			continue
		}
		if err := fn(id, row); err != nil {
			return err
		}
	}
	return nil
}

// DecodeActivity parses an activity tracker extract.
func DecodeActivity(f *Frame) ([]types.ActivityEvent, error) {
	var out []types.ActivityEvent
	err := decode(f, ActivityColumns, func(id string, row int) error {
		ev := types.ActivityEvent{EmployeeID: id}
		var err error
		if ev.Date, err = f.Date("Date", row); err != nil {
			return err
		}
		if ev.TeamsMessages, err = f.Float("Teams_Messages_Sent", row); err != nil {
			return err
		}
		if ev.EmailsSent, err = f.Float("Emails_Sent", row); err != nil {
			return err
		}
		if ev.MeetingsAttended, err = f.Float("Meetings_Attended", row); err != nil {
			return err
		}
		if ev.WorkHours, err = f.Float("Work_Hours", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodeLeave parses a leave extract.
func DecodeLeave(f *Frame) ([]types.LeaveEvent, error) {
	var out []types.LeaveEvent
	err := decode(f, LeaveColumns, func(id string, row int) error {
		ev := types.LeaveEvent{EmployeeID: id}
		ev.LeaveType, _ = f.Str("Leave_Type", row)
		var err error
		if ev.StartDate, err = f.Date("Leave_Start_Date", row); err != nil {
			return err
		}
		if ev.EndDate, err = f.Date("Leave_End_Date", row); err != nil {
			return err
		}
		if ev.Days, err = f.Float("Leave_Days", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodeOnboarding parses an onboarding extract.
func DecodeOnboarding(f *Frame) ([]types.OnboardingEvent, error) {
	var out []types.OnboardingEvent
	err := decode(f, OnboardingColumns, func(id string, row int) error {
		ev := types.OnboardingEvent{EmployeeID: id}
		var err error
		if ev.JoiningDate, err = f.Date("Joining_Date", row); err != nil {
			return err
		}
		if s, ok := f.Str("Onboarding_Feedback", row); ok {
			label, perr := types.ParseFeedbackLabel(s)
			if perr != nil {
				return f.category("Onboarding_Feedback", row, perr)
			}
			ev.Feedback = &label
		}
		if ev.MentorAssigned, err = f.Flag("Mentor_Assigned", row); err != nil {
			return err
		}
		if ev.TrainingCompleted, err = f.Flag("Initial_Training_Completed", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodePerformance parses a performance review extract. Manager feedback is
// validated against the rating scale but kept as text.
func DecodePerformance(f *Frame) ([]types.PerformanceEvent, error) {
	var out []types.PerformanceEvent
	err := decode(f, PerformanceColumns, func(id string, row int) error {
		ev := types.PerformanceEvent{EmployeeID: id}
		s, _ := f.Str("Review_Period", row)
		review, perr := types.ParseReview(s)
		if perr != nil {
			return f.category("Review_Period", row, perr)
		}
		ev.Review = review

		var err error
		if ev.Rating, err = f.Float("Performance_Rating", row); err != nil {
			return err
		}
		if s, ok := f.Str("Manager_Feedback", row); ok {
			if _, perr := types.ParseRatingLabel(s); perr != nil {
				return f.category("Manager_Feedback", row, perr)
			}
			ev.ManagerFeedback = s
		}
		if ev.Promotion, err = f.Flag("Promotion_Consideration", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodeRewards parses a rewards extract.
func DecodeRewards(f *Frame) ([]types.RewardEvent, error) {
	var out []types.RewardEvent
	err := decode(f, RewardColumns, func(id string, row int) error {
		ev := types.RewardEvent{EmployeeID: id}
		ev.AwardType, _ = f.Str("Award_Type", row)
		var err error
		if ev.AwardDate, err = f.Date("Award_Date", row); err != nil {
			return err
		}
		if ev.Points, err = f.Float("Reward_Points", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// DecodeMood parses a vibemeter extract.
func DecodeMood(f *Frame) ([]types.MoodEvent, error) {
	var out []types.MoodEvent
	err := decode(f, MoodColumns, func(id string, row int) error {
		ev := types.MoodEvent{EmployeeID: id}
		var err error
		if ev.ResponseDate, err = f.Date("Response_Date", row); err != nil {
			return err
		}
		if s, ok := f.Str("Emotion_Zone", row); ok {
			zone, perr := types.ParseEmotionZone(s)
			if perr != nil {
				return f.category("Emotion_Zone", row, perr)
			}
			ev.Zone = &zone
		}
		if ev.VibeScore, err = f.Float("Vibe_Score", row); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// LoadActivity reads and decodes the activity extract at path.
func LoadActivity(path string) ([]types.ActivityEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodeActivity(f)
}

// LoadLeave reads and decodes the leave extract at path.
func LoadLeave(path string) ([]types.LeaveEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodeLeave(f)
}

// LoadOnboarding reads and decodes the onboarding extract at path.
func LoadOnboarding(path string) ([]types.OnboardingEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodeOnboarding(f)
}

// LoadPerformance reads and decodes the performance extract at path.
func LoadPerformance(path string) ([]types.PerformanceEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodePerformance(f)
}

// LoadRewards reads and decodes the rewards extract at path.
func LoadRewards(path string) ([]types.RewardEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodeRewards(f)
}

// LoadMood reads and decodes the vibemeter extract at path.
func LoadMood(path string) ([]types.MoodEvent, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return DecodeMood(f)
}

// ValidateHeader checks that r starts with a header carrying every column the
// source requires. Used to reject uploads before they are stored.
func ValidateHeader(src types.Source, name string, r io.Reader) error {
	f, err := Read(name, r)
	if err != nil {
		return err
	}
	return f.RequireColumns(Columns(src)...)
}
