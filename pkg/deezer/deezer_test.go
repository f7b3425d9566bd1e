package deezer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/ratelimit"
	"Soundlytics/pkg/transport"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := transport.New(transport.Config{
		Limiter: ratelimit.NewWithConfig(ratelimit.Config{
			GeneralCapacity: 1000,
			PollInterval:    time.Millisecond,
		}),
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	return New(Config{Transport: tr, Cache: cache.NewMemory(), BaseURL: srv.URL})
}

func TestSanitizeTrackName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Shape of You (feat. X) - Remix", "Shape of You"},
		{"Plain Song", "Plain Song"},
		{"Tune [Live] (Acoustic)", "Tune"},
		{"Dashless (2011 Remaster)", "Dashless"},
		{"A - B - C", "A"},
	}
	for _, tc := range cases {
		if got := SanitizeTrackName(tc.in); got != tc.want {
			t.Errorf("SanitizeTrackName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPreviewURLUsesSanitizedQueryAndCaches(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if got := r.URL.Query().Get("q"); got != `track:"Shape of You" artist:"Ed"` {
			t.Errorf("unexpected query %q", got)
		}
		w.Write([]byte(`{"data":[{"preview":"https://cdn.example/p.mp3"}]}`))
	}))

	for i := 0; i < 2; i++ {
		got, err := c.PreviewURL(context.Background(), "Shape of You (feat. X) - Remix", "Ed")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "https://cdn.example/p.mp3" {
			t.Errorf("preview = %q", got)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected one lookup, got %d", n)
	}
}

func TestPreviewURLMissIsEmptyNotCached(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"data":[]}`))
	}))

	for i := 0; i < 2; i++ {
		got, err := c.PreviewURL(context.Background(), "Unknown", "Nobody")
		if err != nil || got != "" {
			t.Fatalf("expected empty preview, got %q, %v", got, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("empty results must not be cached, got %d lookups", n)
	}
}
