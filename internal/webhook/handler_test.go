package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/pkg/review"
)

func computeHMAC(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret-123")
	payload := []byte(`{"job":"promote-android"}`)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    []byte
		wantErr   bool
	}{
		{
			name:      "valid signature",
			payload:   payload,
			signature: computeHMAC(payload, secret),
			secret:    secret,
			wantErr:   false,
		},
		{
			name:      "wrong secret",
			payload:   payload,
			signature: computeHMAC(payload, []byte("wrong-secret")),
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "tampered payload",
			payload:   []byte(`{"job":"ingest-ios"}`),
			signature: computeHMAC(payload, secret),
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "missing sha256= prefix",
			payload:   payload,
			signature: "not-a-valid-sig",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "invalid hex after prefix",
			payload:   payload,
			signature: "sha256=zzzz",
			secret:    secret,
			wantErr:   true,
		},
		{
			name:      "empty signature",
			payload:   payload,
			signature: "",
			secret:    secret,
			wantErr:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.payload, tc.signature, tc.secret)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if got := Sign(payload, secret); got != computeHMAC(payload, secret) {
		t.Errorf("Sign = %q, want %q", got, computeHMAC(payload, secret))
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent(EventApps, []byte(`{"platform":"ios","apps":[{"id":"1","name":"One","country":"us"}]}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	apps, ok := event.(*AppsEvent)
	if !ok {
		t.Fatalf("expected *AppsEvent, got %T", event)
	}
	if len(apps.Apps) != 1 || apps.Apps[0].ID != "1" {
		t.Errorf("apps = %+v", apps.Apps)
	}

	if _, err := ParseEvent("push", []byte(`{}`)); err == nil {
		t.Error("expected error for unsupported event")
	}
	if _, err := ParseEvent(EventRun, []byte(`{`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

type fakeRegistrar struct {
	platform review.Platform
	apps     []review.TrackedApp
	err      error
}

func (f *fakeRegistrar) Register(ctx context.Context, p review.Platform, apps []review.TrackedApp) (int, error) {
	f.platform, f.apps = p, apps
	return len(apps), f.err
}

func TestServeHTTP(t *testing.T) {
	secret := []byte("s3cret")
	ran := make(chan string, 1)
	runner := scheduler.NewRunner(context.Background(), map[string]scheduler.Job{
		"ingest-ios": func(context.Context) error { ran <- "ingest-ios"; return nil },
	}, zerolog.Nop())
	registrar := &fakeRegistrar{}
	h := NewHandler(secret, runner, registrar, zerolog.Nop())

	tests := []struct {
		name     string
		method   string
		event    string
		body     string
		sign     bool
		wantCode int
	}{
		{name: "ping", method: http.MethodPost, event: EventPing, body: `{"zen":"hi"}`, sign: true, wantCode: http.StatusOK},
		{name: "run", method: http.MethodPost, event: EventRun, body: `{"job":"ingest-ios","requested_by":"cloud-scheduler"}`, sign: true, wantCode: http.StatusAccepted},
		{name: "unknown job", method: http.MethodPost, event: EventRun, body: `{"job":"nope"}`, sign: true, wantCode: http.StatusNotFound},
		{name: "apps", method: http.MethodPost, event: EventApps, body: `{"platform":"android","apps":[{"id":"com.a","name":"A","country":"us","lang":"en"}]}`, sign: true, wantCode: http.StatusAccepted},
		{name: "bad platform", method: http.MethodPost, event: EventApps, body: `{"platform":"web","apps":[]}`, sign: true, wantCode: http.StatusBadRequest},
		{name: "unsigned", method: http.MethodPost, event: EventRun, body: `{"job":"ingest-ios"}`, sign: false, wantCode: http.StatusUnauthorized},
		{name: "missing event header", method: http.MethodPost, event: "", body: `{}`, sign: true, wantCode: http.StatusBadRequest},
		{name: "unsupported event", method: http.MethodPost, event: "push", body: `{}`, sign: true, wantCode: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, event: EventPing, body: ``, sign: true, wantCode: http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/hooks", strings.NewReader(tc.body))
			if tc.event != "" {
				req.Header.Set("X-Reviewlake-Event", tc.event)
			}
			if tc.sign {
				req.Header.Set("X-Reviewlake-Signature-256", Sign([]byte(tc.body), secret))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tc.wantCode, rec.Body.String())
			}
		})
	}

	if got := <-ran; got != "ingest-ios" {
		t.Errorf("ran %q", got)
	}
	runner.Wait()
	if registrar.platform != review.Android || len(registrar.apps) != 1 {
		t.Errorf("registrar got %s %+v", registrar.platform, registrar.apps)
	}
}

func TestServeHTTPRegistrarFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"database error", errors.New("db down"), http.StatusInternalServerError},
		{"run in progress", fmt.Errorf("%w: ios", lease.ErrHeld), http.StatusConflict},
	}

	secret := []byte("s3cret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(secret, nil, &fakeRegistrar{err: tt.err}, zerolog.Nop())

			body := `{"platform":"ios","apps":[{"id":"1","country":"us"}]}`
			req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body))
			req.Header.Set("X-Reviewlake-Event", EventApps)
			req.Header.Set("X-Reviewlake-Signature-256", Sign([]byte(body), secret))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServeHTTPWithoutSecret(t *testing.T) {
	h := NewHandler(nil, nil, nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
