package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_ErrorWithDetails(t *testing.T) {
	err := NewColumnError(CodeMissingColumn, "leave.csv", "Leave_Days", "required column missing")
	expected := "[INPUT:MISSING_COLUMN] required column missing (column=Leave_Days, file=leave.csv)"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_WithDetailsDoesNotMutate(t *testing.T) {
	base := NewInputError(CodeUnparseableDate, "activity.csv", "bad date")
	extended := base.WithDetails(map[string]interface{}{"row": 7})

	if _, ok := base.Details["row"]; ok {
		t.Error("WithDetails must not mutate the receiver")
	}
	if extended.Details["file"] != "activity.csv" || extended.Details["row"] != 7 {
		t.Errorf("unexpected details: %v", extended.Details)
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryManifest, CodeWriteConflict, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestPipelineError_Is(t *testing.T) {
	err1 := New(ErrCategoryInput, CodeMissingColumn, "first")
	err2 := New(ErrCategoryInput, CodeMissingColumn, "second")
	err3 := New(ErrCategoryInput, CodeUnparseableDate, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("merge: %w", err1)
	if !errors.Is(wrapped, New(ErrCategoryInput, CodeMissingColumn, "")) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryManifest, CodeWriteConflict, true},
		{ErrCategoryManifest, CodeRunNotFound, false},
		{ErrCategoryInput, CodeMissingColumn, false},
		{ErrCategoryModel, CodeShapeMismatch, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewModelError(CodeShapeMismatch, "width"))
	if GetCategory(err) != ErrCategoryModel {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryModel)
	}
	if GetCode(err) != CodeShapeMismatch {
		t.Errorf("got %q, want %q", GetCode(err), CodeShapeMismatch)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-PipelineError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-PipelineError should return empty code")
	}
}
