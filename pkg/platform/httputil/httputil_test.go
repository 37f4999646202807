package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "gatekeeper/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantDesc   string
	}{
		{dErrors.New(dErrors.CodeValidation, "title is required"), http.StatusBadRequest, "title is required"},
		{dErrors.New(dErrors.CodeUnauthorized, "invalid token"), http.StatusUnauthorized, "invalid token"},
		{dErrors.New(dErrors.CodeForbidden, "not an approver"), http.StatusForbidden, "not an approver"},
		{dErrors.New(dErrors.CodeNotFound, "approval not found"), http.StatusNotFound, "approval not found"},
		{dErrors.New(dErrors.CodeConflict, "already decided"), http.StatusConflict, "already decided"},
		{dErrors.New(dErrors.CodeUnavailable, "store unavailable"), http.StatusServiceUnavailable, "store unavailable"},
		{dErrors.New(dErrors.CodeInternal, "db failed"), http.StatusInternalServerError, ""},
		{errors.New("plain"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body["error"] == "" {
				t.Fatal("expected an error code")
			}
			if got := body["error_description"]; got != tt.wantDesc {
				t.Fatalf("expected description %q, got %q", tt.wantDesc, got)
			}
		})
	}
}

type sampleRequest struct {
	Name string `json:"name"`
}

func (r *sampleRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("decodes and validates", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
		req, ok := DecodeAndPrepare[sampleRequest](w, r, nil, context.Background(), "req-1")
		if !ok || req.Name != "ok" {
			t.Fatalf("expected decoded request, got ok=%v req=%v", ok, req)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok","extra":1}`))
		if _, ok := DecodeAndPrepare[sampleRequest](w, r, nil, context.Background(), "req-2"); ok {
			t.Fatal("expected decode failure")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("writes validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":" "}`))
		if _, ok := DecodeAndPrepare[sampleRequest](w, r, nil, context.Background(), "req-3"); ok {
			t.Fatal("expected validation failure")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}
