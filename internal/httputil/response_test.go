package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "bad scale")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "bad scale" {
		t.Errorf("error = %q, want 'bad scale'", resp["error"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]int{"bpm": 120}) }, http.StatusOK},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAllowMethods(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/params", nil)
	if !AllowMethods(rec, req, http.MethodGet, http.MethodPost) {
		t.Error("GET should be allowed")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/params", nil)
	if AllowMethods(rec, req, http.MethodGet, http.MethodPost) {
		t.Error("DELETE should be refused")
	}
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "GET, POST" {
		t.Errorf("Allow = %q", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type body struct {
		Feedback *float64 `json:"feedback"`
	}
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"valid", `{"feedback":0.5}`, ""},
		{"empty", ``, "empty request body"},
		{"unknown field", `{"feedbak":0.5}`, "unknown field"},
		{"trailing", `{"feedback":0.5}{}`, "single JSON object"},
		{"too large", `{"feedback":` + strings.Repeat(" ", MaxBodyBytes) + `1}`, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b body
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.in))
			err := DecodeJSON(httptest.NewRecorder(), req, &b)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if b.Feedback == nil || *b.Feedback != 0.5 {
					t.Errorf("feedback not decoded: %+v", b)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
