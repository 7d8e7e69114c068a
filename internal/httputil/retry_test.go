package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestGetRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), srv.Client(), srv.URL, GetOptions{}, fastRetryConfig())
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	defer resp.Body.Close()

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestGetDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), srv.Client(), srv.URL, GetOptions{}, fastRetryConfig())
	if err != nil {
		t.Fatalf("404 should be returned, not retried: %v", err)
	}
	resp.Body.Close()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestGetSetsBasicAuthAndRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "deploy" || pass != "s3cret" {
			t.Errorf("missing or wrong basic auth: %q %q", user, pass)
		}
		if got := r.Header.Get("Range"); got != "bytes=10-19" {
			t.Errorf("unexpected range header: %q", got)
		}
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	opts := GetOptions{Username: "deploy", Password: "s3cret", RangeStart: 10, RangeEnd: 20}
	resp, err := Get(context.Background(), srv.Client(), srv.URL, opts, fastRetryConfig())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
}

func TestGetRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastRetryConfig()
	cfg.InitialDelay = time.Minute
	_, err := Get(ctx, srv.Client(), srv.URL, GetOptions{}, cfg)
	if err == nil {
		t.Fatal("expected context error")
	}
}
