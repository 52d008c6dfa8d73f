package http

import (
	"fmt"
	"io"
	"net/http"

	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// DatasetResponse is returned after a dataset upload.
type DatasetResponse struct {
	DatasetID string   `json:"dataset_id"`
	Sources   []string `json:"sources"`
	RequestID string   `json:"request_id"`
}

// DatasetHandler handles POST /v1/datasets. The body is a multipart form
// with one file part per source, named after the source.
type DatasetHandler struct {
	runner   *pipeline.Runner
	maxBytes int64
}

// NewDatasetHandler creates a dataset upload handler accepting bodies up to
// maxBytes.
func NewDatasetHandler(runner *pipeline.Runner, maxBytes int64) *DatasetHandler {
	return &DatasetHandler{runner: runner, maxBytes: maxBytes}
}

// ServeHTTP stores the six uploads after validating their headers.
func (h *DatasetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid multipart body: %v", err),
			RequestID: requestID,
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	var missing []string
	for _, src := range types.AllSources() {
		if len(r.MultipartForm.File[string(src)]) == 0 {
			missing = append(missing, string(src))
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("missing file parts: %v", missing),
			RequestID: requestID,
		})
		return
	}

	open := func(src types.Source) (io.ReadCloser, error) {
		return r.MultipartForm.File[string(src)][0].Open()
	}
	id, err := pipeline.SaveDataset(r.Context(), h.runner.Storage(), h.runner.WorkDir(), open)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	sources := make([]string, 0, 6)
	for _, src := range types.AllSources() {
		sources = append(sources, string(src))
	}
	writeJSON(w, http.StatusCreated, DatasetResponse{DatasetID: id, Sources: sources, RequestID: requestID})
}
