// Package report renders the HR report of one flagged employee from its run
// catalog entry.
package report

import (
	"time"

	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// ConcernLevel grades one problem by its attribution magnitude.
type ConcernLevel string

const (
	ConcernLow    ConcernLevel = "low"
	ConcernMedium ConcernLevel = "medium"
	ConcernHigh   ConcernLevel = "high"
)

// Concern thresholds on |phi|.
const (
	MediumThreshold = 0.3
	HighThreshold   = 0.6
)

// Level grades a magnitude: below 0.3 is low, 0.3 to 0.6 inclusive is
// medium, above 0.6 is high.
func Level(magnitude float64) ConcernLevel {
	switch {
	case magnitude > HighThreshold:
		return ConcernHigh
	case magnitude >= MediumThreshold:
		return ConcernMedium
	}
	return ConcernLow
}

// Issue is one graded problem.
type Issue struct {
	Feature   string       `json:"feature"`
	Magnitude float64      `json:"magnitude"`
	Level     ConcernLevel `json:"level"`
}

// Metrics are the quantitative values carried from the master table. Missing
// values are omitted.
type Metrics struct {
	AnomalyScore      float64  `json:"anomaly_score"`
	AverageWorkHours  *float64 `json:"average_work_hours,omitempty"`
	RewardFactor      *float64 `json:"reward_factor,omitempty"`
	PerformanceRating *float64 `json:"performance_rating,omitempty"`
	VibeFactor        *float64 `json:"vibe_factor,omitempty"`
}

// BasicInfo identifies the employee within the run.
type BasicInfo struct {
	EmployeeID   string `json:"employee_id"`
	Rank         int    `json:"rank"`
	FlaggedCount int    `json:"flagged_count"`
	Employees    int    `json:"employees"`
}

// RiskAssessment summarises the concern levels.
type RiskAssessment struct {
	// RiskLevel is the level of the largest problem; low when there is none.
	RiskLevel     ConcernLevel         `json:"risk_level"`
	ConcernCounts map[ConcernLevel]int `json:"concern_counts"`
	// Percentile is the share of flagged employees ranked at or below this one.
	Percentile float64 `json:"percentile"`
}

// Report is the HR report of one flagged employee.
type Report struct {
	RunID           string         `json:"run_id"`
	FeatureVersion  string         `json:"feature_version"`
	GeneratedAt     time.Time      `json:"generated_at"`
	BasicInfo       BasicInfo      `json:"basic_info"`
	Metrics         Metrics        `json:"quantitative_metrics"`
	TopIssues       []Issue        `json:"top_issues"`
	SecondaryIssues []Issue        `json:"secondary_issues"`
	Risk            RiskAssessment `json:"risk_assessment"`
}

func grade(cs []types.Contribution) []Issue {
	out := make([]Issue, len(cs))
	for i, c := range cs {
		out[i] = Issue{Feature: c.Feature, Magnitude: c.Magnitude, Level: Level(c.Magnitude)}
	}
	return out
}

func ptr(v types.OptionalFloat) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.Value
	return &x
}

// Build renders the report of f, which belongs to run.
func Build(run *manifest.RunRecord, f *manifest.FlaggedRecord, now time.Time) *Report {
	top := grade(f.Problems)
	secondary := grade(f.OtherProblems)

	counts := map[ConcernLevel]int{ConcernLow: 0, ConcernMedium: 0, ConcernHigh: 0}
	risk := ConcernLow
	for _, is := range append(append([]Issue(nil), top...), secondary...) {
		counts[is.Level]++
	}
	// Problems are sorted by magnitude, so the first one sets the risk.
	if len(top) > 0 {
		risk = top[0].Level
	}

	var percentile float64
	if run.FlaggedCount > 0 {
		percentile = float64(run.FlaggedCount-f.Rank+1) / float64(run.FlaggedCount)
	}

	return &Report{
		RunID:          run.RunID,
		FeatureVersion: run.FeatureVersion,
		GeneratedAt:    now.UTC(),
		BasicInfo: BasicInfo{
			EmployeeID:   f.EmployeeID,
			Rank:         f.Rank,
			FlaggedCount: run.FlaggedCount,
			Employees:    run.EmployeeCount,
		},
		Metrics: Metrics{
			AnomalyScore:      f.Score,
			AverageWorkHours:  ptr(f.AverageWorkHours),
			RewardFactor:      ptr(f.RewardFactor),
			PerformanceRating: ptr(f.PerformanceRating),
			VibeFactor:        ptr(f.VibeFactor),
		},
		TopIssues:       top,
		SecondaryIssues: secondary,
		Risk: RiskAssessment{
			RiskLevel:     risk,
			ConcernCounts: counts,
			Percentile:    percentile,
		},
	}
}
