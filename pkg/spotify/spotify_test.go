package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"Soundlytics/pkg/auth"
	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/ratelimit"
	"Soundlytics/pkg/transport"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context, string) (string, error) { return s.token, s.err }

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := transport.New(transport.Config{
		Limiter: ratelimit.NewWithConfig(ratelimit.Config{
			GeneralCapacity: 1000,
			PlayerCapacity:  1000,
			PollInterval:    time.Millisecond,
		}),
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	c := New(Config{
		Transport: tr,
		Cache:     cache.NewMemory(),
		Tokens:    staticTokens{token: "tok"},
		UserID:    "u1",
		BaseURL:   srv.URL,
	})
	return c, srv
}

func TestTrackDecodeAndCache(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/tracks/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "abc", "name": "Song",
			"artists":     []map[string]any{{"id": "ar1", "name": "Artist"}},
			"album":       map[string]any{"id": "al1", "name": "Album"},
			"duration_ms": 215000, "popularity": 63,
		})
	}))

	for i := 0; i < 2; i++ {
		tr, err := c.Track(context.Background(), "abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tr.Name != "Song" || tr.ArtistName() != "Artist" || tr.Album == nil || tr.Album.Name != "Album" {
			t.Errorf("unexpected track %+v", tr)
		}
		if tr.Duration() != "3:35" {
			t.Errorf("duration = %q", tr.Duration())
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected one upstream call, got %d", n)
	}
}

func TestTrackToleratesMissingFields(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x"}`))
	}))
	tr, err := c.Track(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ID != "x" || tr.Name != "" || tr.ArtistName() != "" || tr.Album != nil {
		t.Errorf("defensive defaults violated: %+v", tr)
	}
}

func TestAuthFailureShortCircuits(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should never reach upstream")
	}))
	c.tokens = staticTokens{err: fmt.Errorf("%w: u1", auth.ErrNotAuthenticated)}

	_, err := c.Track(context.Background(), "abc")
	if !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

// TestRecentlyPlayedAllCaps serves eight 50-item pages and verifies the
// paginator stops at 350 accumulated items.
func TestRecentlyPlayedAllCaps(t *testing.T) {
	var pages int32
	var srvURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := atomic.AddInt32(&pages, 1)
		items := make([]map[string]any, 50)
		for i := range items {
			items[i] = map[string]any{
				"track":     map[string]any{"id": fmt.Sprintf("t-%d-%d", page, i), "name": "x"},
				"played_at": time.Now().UTC().Format(time.RFC3339),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": items,
			"next":  srvURL + "/me/player/recently-played?page=" + strconv.Itoa(int(page)+1),
		})
	})
	c, srv := newTestClient(t, handler)
	srvURL = srv.URL

	plays, err := c.RecentlyPlayedAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plays) != 350 {
		t.Errorf("expected 350 plays, got %d", len(plays))
	}
	if n := atomic.LoadInt32(&pages); n != 7 {
		t.Errorf("expected 7 page fetches, got %d", n)
	}
}

// TestRecentlyPlayedAllStopsAtEnd verifies termination when the source runs
// out before the cap: K items yield exactly K plays.
func TestRecentlyPlayedAllStopsAtEnd(t *testing.T) {
	var pages int32
	var srvURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := atomic.AddInt32(&pages, 1)
		if page > 2 {
			t.Error("paginator followed a cursor past the end of data")
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
			return
		}
		n := 50
		next := srvURL + "/me/player/recently-played?page=2"
		if page == 2 {
			n = 20
			next = ""
		}
		items := make([]map[string]any, n)
		for i := range items {
			items[i] = map[string]any{
				"track":     map[string]any{"id": fmt.Sprintf("t-%d-%d", page, i)},
				"played_at": time.Now().UTC().Format(time.RFC3339),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items, "next": next})
	})
	c, srv := newTestClient(t, handler)
	srvURL = srv.URL

	plays, err := c.RecentlyPlayedAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plays) != 70 {
		t.Errorf("expected 70 plays, got %d", len(plays))
	}
}

func TestTrackIDSearch(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "track:Song artist:Artist" {
			t.Errorf("unexpected query %q", got)
		}
		w.Write([]byte(`{"tracks":{"items":[{"id":"found"}]}}`))
	}))
	id, err := c.TrackID(context.Background(), "Song", "Artist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "found" {
		t.Errorf("id = %q", id)
	}
}

func TestSearchArtistEmptyResult(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"artists":{"items":[]}}`))
	}))
	a, err := c.SearchArtist(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "" {
		t.Errorf("expected zero artist, got %+v", a)
	}
}

func TestArtistTopAlbumsDeduplicatesByName(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"id":"1","name":"Greatest"},
			{"id":"2","name":"Greatest"},
			{"id":"3","name":"Second"},
			{"id":"4","name":"Third"}
		]}`))
	}))
	albums, err := c.ArtistTopAlbums(context.Background(), "ar1", "US", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(albums) != 3 || albums[0].ID != "1" || albums[1].Name != "Second" {
		t.Errorf("unexpected albums %+v", albums)
	}
}

func TestArtistTopTracksTruncates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tracks":[{"id":"a","popularity":90},{"id":"b","popularity":80},{"id":"c","popularity":70}]}`))
	}))
	tracks, err := c.ArtistTopTracks(context.Background(), "ar1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "a" {
		t.Errorf("unexpected tracks %+v", tracks)
	}
}
