package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "kitaabse-pipeline/pkg/errors"
)

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusTeapot, "nope")

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content type application/json, got %s", ct)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"error":"nope"}` {
		t.Fatalf("unexpected response body: %s", rr.Body.String())
	}
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "validation with details",
			err:    apperrors.NewValidationError("File too large", "Maximum file size is 50MB"),
			status: http.StatusBadRequest,
			body:   `{"details":"Maximum file size is 50MB","error":"File too large"}`,
		},
		{
			name:   "internal hides cause",
			err:    apperrors.NewInternalError("Failed to store PDF", errors.New("secret bucket path")),
			status: http.StatusInternalServerError,
			body:   `{"error":"Failed to store PDF"}`,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			body:   `{"error":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeAppError(rr, tt.err)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.body {
				t.Fatalf("unexpected body: %s", got)
			}
		})
	}
}
