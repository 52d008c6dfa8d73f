package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vibewatch/vibewatch/internal/api"
	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/internal/report"
)

// RunRequest starts a run over an uploaded dataset.
type RunRequest struct {
	DatasetID string `json:"dataset_id"`
	Force     bool   `json:"force,omitempty"`
}

// RunsHandler serves the run endpoints.
type RunsHandler struct {
	runner *pipeline.Runner
	now    func() time.Time
}

// NewRunsHandler creates the run handlers.
func NewRunsHandler(runner *pipeline.Runner) *RunsHandler {
	return &RunsHandler{runner: runner, now: time.Now}
}

// Create handles POST /v1/runs.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid request body: %v", err),
			RequestID: requestID,
		})
		return
	}
	if req.DatasetID == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "dataset_id is required", RequestID: requestID})
		return
	}

	res, err := h.runner.Run(r.Context(), pipeline.RunRequest{DatasetID: req.DatasetID, Force: req.Force})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, api.NewRunResponse(res))
}

// List handles GET /v1/runs?limit=n, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	runs, err := h.runner.Catalog().ListRuns(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	out := make([]api.RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, api.NewRunView(run))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

// Latest handles GET /v1/runs/latest.
func (h *RunsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Latest(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewRunResponse(res))
}

// Anomalies handles GET /v1/runs/{id}/anomalies.
func (h *RunsHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewRunResponse(res))
}

// Report handles GET /v1/runs/{id}/employees/{employee}/report.
func (h *RunsHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	run, err := h.runner.Catalog().GetRun(ctx, runID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	flagged, err := h.runner.Catalog().GetFlagged(ctx, runID, chi.URLParam(r, "employee"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(run, flagged, h.now()))
}

// ProblemView is one entry of the recurring problem statistics.
type ProblemView struct {
	Feature        string    `json:"feature"`
	Frequency      int64     `json:"frequency"`
	OtherFrequency int64     `json:"other_frequency"`
	MeanMagnitude  float64   `json:"mean_magnitude"`
	LastSeen       time.Time `json:"last_seen"`
}

// Problems handles GET /v1/stats/problems?limit=n.
func (h *RunsHandler) Problems(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 10)
	if !ok {
		return
	}

	out := []ProblemView{}
	if stats := h.runner.Stats(); stats != nil {
		for _, f := range stats.Top(limit) {
			out = append(out, ProblemView{
				Feature:        f.Feature,
				Frequency:      f.Frequency,
				OtherFrequency: f.OtherFrequency,
				MeanMagnitude:  f.MeanMagnitude(),
				LastSeen:       f.LastSeen.UTC(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"problems": out})
}

// parseLimit reads the limit query parameter. It writes a 400 and returns
// false when the value is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     "limit must be a positive integer",
			RequestID: GetRequestID(r.Context()),
		})
		return 0, false
	}
	return n, true
}
