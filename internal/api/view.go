// Package api holds the wire views shared by the HTTP and gRPC surfaces.
package api

import (
	"encoding/json"
	"time"

	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// RunView is the public view of a catalog run.
type RunView struct {
	RunID          string     `json:"run_id"`
	DatasetID      string     `json:"dataset_id,omitempty"`
	Fingerprint    string     `json:"fingerprint"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	FeatureVersion string     `json:"feature_version"`
	EmployeeCount  int        `json:"employee_count"`
	FlaggedCount   int        `json:"flagged_count"`
	Offset         float64    `json:"decision_offset"`
	MasterPath     string     `json:"master_path,omitempty"`
	SummaryPath    string     `json:"summary_path,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// NewRunView converts a catalog run.
func NewRunView(r *manifest.RunRecord) RunView {
	v := RunView{
		RunID:          r.RunID,
		DatasetID:      r.DatasetID,
		Fingerprint:    r.Fingerprint,
		Status:         r.Status,
		Error:          r.ErrorMessage,
		FeatureVersion: r.FeatureVersion,
		EmployeeCount:  r.EmployeeCount,
		FlaggedCount:   r.FlaggedCount,
		Offset:         r.Offset,
		MasterPath:     r.MasterPath,
		SummaryPath:    r.SummaryPath,
		StartedAt:      r.StartedAt.UTC(),
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt.UTC()
		v.FinishedAt = &t
	}
	return v
}

// AnomalyView is one distress summary row. Keys follow the summary CSV.
type AnomalyView struct {
	EmployeeID        string               `json:"employee_id"`
	Rank              int                  `json:"rank"`
	Score             float64              `json:"anomaly_score"`
	Problems          []types.Contribution `json:"problems"`
	OtherProblems     []types.Contribution `json:"other_problems"`
	AverageWorkHours  *float64             `json:"average_work_hours"`
	RewardFactor      *float64             `json:"reward_factor"`
	PerformanceRating *float64             `json:"performance_rating"`
	VibeFactor        *float64             `json:"vibe_factor"`
}

func optional(v types.OptionalFloat) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.Value
	return &x
}

func contributions(cs []types.Contribution) []types.Contribution {
	if cs == nil {
		return []types.Contribution{}
	}
	return cs
}

// NewAnomalyViews converts flagged records, which are in rank order.
func NewAnomalyViews(flagged []types.AnomalyRecord) []AnomalyView {
	out := make([]AnomalyView, len(flagged))
	for i, a := range flagged {
		out[i] = AnomalyView{
			EmployeeID:        a.EmployeeID,
			Rank:              i + 1,
			Score:             a.Score,
			Problems:          contributions(a.Problems),
			OtherProblems:     contributions(a.OtherProblems),
			AverageWorkHours:  optional(a.AverageWorkHours),
			RewardFactor:      optional(a.RewardFactor),
			PerformanceRating: optional(a.PerformanceRating),
			VibeFactor:        optional(a.VibeFactor),
		}
	}
	return out
}

// RunResponse is the result of a run request or a run lookup.
type RunResponse struct {
	Run       RunView       `json:"run"`
	Reused    bool          `json:"reused"`
	Anomalies []AnomalyView `json:"anomalies"`
}

// NewRunResponse converts a pipeline result.
func NewRunResponse(res *pipeline.RunResult) RunResponse {
	return RunResponse{
		Run:       NewRunView(res.Run),
		Reused:    res.Reused,
		Anomalies: NewAnomalyViews(res.Flagged),
	}
}

// AsMap renders v through its JSON form, for transports that carry
// schemaless structs.
func AsMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
