package mq

import (
	"errors"
	"testing"
)

func newTestPublisher(t *testing.T, workerURL, env string) *Publisher {
	t.Helper()
	p, err := NewPublisher(nil, nil, PublisherConfig{WorkerBaseURL: workerURL, Env: env})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestNewPublisher_InvalidURL(t *testing.T) {
	cases := []string{"", "not a url", "/relative/path", "worker:8081"}
	for _, raw := range cases {
		_, err := NewPublisher(nil, nil, PublisherConfig{WorkerBaseURL: raw})
		if !errors.Is(err, ErrInvalidWorkerURL) {
			t.Errorf("%q: expected ErrInvalidWorkerURL, got %v", raw, err)
		}
	}
}

func TestNewPublisher_ProductionRequiresHTTPS(t *testing.T) {
	_, err := NewPublisher(nil, nil, PublisherConfig{
		WorkerBaseURL: "http://worker.internal:8081",
		Env:           "production",
	})
	if !errors.Is(err, ErrInvalidWorkerURL) {
		t.Fatalf("expected ErrInvalidWorkerURL, got %v", err)
	}

	if _, err := NewPublisher(nil, nil, PublisherConfig{
		WorkerBaseURL: "https://worker.internal",
		Env:           "production",
	}); err != nil {
		t.Fatalf("https should be accepted in production: %v", err)
	}
}

func TestValidateOrigin(t *testing.T) {
	p := newTestPublisher(t, "http://worker.internal:8081", "")

	cases := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"empty origin allowed", "", true},
		{"exact match", "http://worker.internal:8081", true},
		{"match with path ignored", "http://worker.internal:8081/jobs/run-step", true},
		{"wrong host", "http://evil.example", false},
		{"wrong port", "http://worker.internal:9999", false},
		{"wrong scheme", "https://worker.internal:8081", false},
		{"unparseable", "://nope", false},
		{"no scheme", "worker.internal:8081", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ValidateOrigin(tc.origin)
			if tc.ok && err != nil {
				t.Errorf("expected ok, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrOriginMismatch) {
				t.Errorf("expected ErrOriginMismatch, got %v", err)
			}
		})
	}
}

func TestCallbackURL(t *testing.T) {
	cases := []struct {
		workerURL string
		want      string
	}{
		{"http://worker.internal:8081", "http://worker.internal:8081/jobs/run-step"},
		{"http://worker.internal:8081/", "http://worker.internal:8081/jobs/run-step"},
		{"https://conveyor.example", "https://conveyor.example/jobs/run-step"},
	}

	for _, tc := range cases {
		p := newTestPublisher(t, tc.workerURL, "")
		if got := p.CallbackURL(); got != tc.want {
			t.Errorf("CallbackURL(%q) = %q, want %q", tc.workerURL, got, tc.want)
		}
	}
}
