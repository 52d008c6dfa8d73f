package types

import (
	"fmt"
	"strconv"
	"strings"
)

// FeedbackLabel is the textual onboarding feedback.
type FeedbackLabel string

const (
	FeedbackPoor      FeedbackLabel = "Poor"
	FeedbackAverage   FeedbackLabel = "Average"
	FeedbackGood      FeedbackLabel = "Good"
	FeedbackExcellent FeedbackLabel = "Excellent"
)

// ParseFeedbackLabel maps a trimmed label to a FeedbackLabel.
func ParseFeedbackLabel(s string) (FeedbackLabel, error) {
	switch l := FeedbackLabel(s); l {
	case FeedbackPoor, FeedbackAverage, FeedbackGood, FeedbackExcellent:
		return l, nil
	}
	return "", &UnknownCategoryError{Kind: "onboarding feedback", Value: s}
}

// Score is the 0..3 value used by the onboarding factor.
func (f FeedbackLabel) Score() float64 {
	switch f {
	case FeedbackPoor:
		return 0
	case FeedbackAverage:
		return 1
	case FeedbackGood:
		return 2
	case FeedbackExcellent:
		return 3
	}
	panic(fmt.Sprintf("types: invalid feedback label %q", string(f)))
}

// Ordinal is the detector encoding of the label. Good has no encoding in the
// calibrated model and reports ok=false so it is imputed downstream.
func (f FeedbackLabel) Ordinal() (float64, bool) {
	switch f {
	case FeedbackPoor:
		return 1, true
	case FeedbackAverage:
		return 2, true
	case FeedbackExcellent:
		return 3, true
	}
	return 0, false
}

// RatingLabel is a five-point manager or performance rating.
type RatingLabel string

const (
	RatingPoor                RatingLabel = "Poor"
	RatingNeedsImprovement    RatingLabel = "Needs Improvement"
	RatingMeetsExpectations   RatingLabel = "Meets Expectations"
	RatingExceedsExpectations RatingLabel = "Exceeds Expectations"
	RatingExcellent           RatingLabel = "Excellent"
)

var ratingOrdinals = map[RatingLabel]float64{
	RatingPoor:                1,
	RatingNeedsImprovement:    2,
	RatingMeetsExpectations:   3,
	RatingExceedsExpectations: 4,
	RatingExcellent:           5,
}

// ParseRatingLabel maps a trimmed label to a RatingLabel.
func ParseRatingLabel(s string) (RatingLabel, error) {
	l := RatingLabel(s)
	if _, ok := ratingOrdinals[l]; !ok {
		return "", &UnknownCategoryError{Kind: "rating", Value: s}
	}
	return l, nil
}

// Ordinal returns the 1..5 encoding.
func (r RatingLabel) Ordinal() float64 {
	v, ok := ratingOrdinals[r]
	if !ok {
		panic(fmt.Sprintf("types: invalid rating label %q", string(r)))
	}
	return v
}

// EmotionZone is the vibemeter emotion bucket.
type EmotionZone string

const (
	ZoneFrustrated   EmotionZone = "Frustrated Zone"
	ZoneSad          EmotionZone = "Sad Zone"
	ZoneLeaningSad   EmotionZone = "Leaning to Sad Zone"
	ZoneNeutral      EmotionZone = "Neutral Zone (OK)"
	ZoneLeaningHappy EmotionZone = "Leaning to Happy Zone"
	ZoneHappy        EmotionZone = "Happy Zone"
	ZoneExcited      EmotionZone = "Excited Zone"
)

var zoneValues = map[EmotionZone]float64{
	ZoneFrustrated:   -3,
	ZoneSad:          -2,
	ZoneLeaningSad:   -1,
	ZoneNeutral:      0,
	ZoneLeaningHappy: 1,
	ZoneHappy:        2,
	ZoneExcited:      3,
}

// ParseEmotionZone maps a trimmed label to an EmotionZone.
func ParseEmotionZone(s string) (EmotionZone, error) {
	z := EmotionZone(s)
	if _, ok := zoneValues[z]; !ok {
		return "", &UnknownCategoryError{Kind: "emotion zone", Value: s}
	}
	return z, nil
}

// Value returns the -3..+3 encoding.
func (z EmotionZone) Value() float64 {
	v, ok := zoneValues[z]
	if !ok {
		panic(fmt.Sprintf("types: invalid emotion zone %q", string(z)))
	}
	return v
}

// Period is the review window inside a year.
type Period int

const (
	PeriodH1 Period = iota + 1
	PeriodH2
	PeriodAnnual
)

func (p Period) String() string {
	switch p {
	case PeriodH1:
		return "H1"
	case PeriodH2:
		return "H2"
	case PeriodAnnual:
		return "Annual"
	}
	return "Period(" + strconv.Itoa(int(p)) + ")"
}

// Review is a parsed "<Period> <Year>" string such as "H1 2023".
type Review struct {
	Period Period
	Year   int
}

// ParseReview parses a review period string.
func ParseReview(s string) (Review, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Review{}, &UnknownCategoryError{Kind: "review period", Value: s}
	}
	var p Period
	switch fields[0] {
	case "H1":
		p = PeriodH1
	case "H2":
		p = PeriodH2
	case "Annual":
		p = PeriodAnnual
	default:
		return Review{}, &UnknownCategoryError{Kind: "review period", Value: s}
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil {
		return Review{}, &UnknownCategoryError{Kind: "review year", Value: s}
	}
	return Review{Period: p, Year: year}, nil
}

// After reports whether r is more recent than other: later year first, then
// later period within the same year.
func (r Review) After(other Review) bool {
	if r.Year != other.Year {
		return r.Year > other.Year
	}
	return r.Period > other.Period
}

func (r Review) String() string {
	return r.Period.String() + " " + strconv.Itoa(r.Year)
}

// ParseFlag parses the boolean spellings found in HR extracts.
func ParseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, &UnknownCategoryError{Kind: "boolean flag", Value: s}
}
