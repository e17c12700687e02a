
package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(retries int) *HTTPClient {
	return NewHTTPClient(Options{
		Timeout:   5 * time.Second,
		Retries:   retries,
		RetryBase: time.Millisecond,
		UserAgent: "handbook-test/1.0",
	})
}

func TestFetchHTML(t *testing.T) {
	var ua atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html><title>x</title></html>"))
	}))
	defer ts.Close()

	body, err := newTestClient(3).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("fetch err: %v", err)
	}
	if body != "<html><title>x</title></html>" {
		t.Fatalf("unexpected body %q", body)
	}
	if got := ua.Load(); got != "handbook-test/1.0" {
		t.Fatalf("want fixed user agent, got %v", got)
	}
}

func TestFetchAlways503(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(3).Fetch(context.Background(), ts.URL)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("want retries+1 = 4 attempts, got %d", got)
	}
}

func TestFetchRetries429ThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	body, err := newTestClient(3).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("fetch err: %v", err)
	}
	if body != "ok" || hits.Load() != 3 {
		t.Fatalf("want ok after 3 attempts, got %q after %d", body, hits.Load())
	}
}

func TestFetchReturnsNotFoundBody(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<p>missing</p>"))
	}))
	defer ts.Close()

	body, err := newTestClient(3).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("404 should not be an error, got %v", err)
	}
	if body != "<p>missing</p>" || hits.Load() != 1 {
		t.Fatalf("want single attempt returning body, got %q after %d", body, hits.Load())
	}
}

func TestFetchTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	_, err := newTestClient(1).Fetch(context.Background(), addr)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
}

func TestFetchDecodesCharset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer ts.Close()

	body, err := newTestClient(0).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("fetch err: %v", err)
	}
	if body != "café" {
		t.Fatalf("want café, got %q", body)
	}
}

func TestRejectInvalidURL(t *testing.T) {
	if _, err := newTestClient(0).Fetch(context.Background(), "/relative/path"); err == nil {
		t.Fatal("expected error for relative url")
	}
}
