package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestTokenRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour).UTC()}
	if err := d.SaveToken(ctx, "u1", tok); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := d.GetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Errorf("unexpected token %+v", got)
	}

	// Saving again replaces the stored token.
	tok.AccessToken = "b"
	if err := d.SaveToken(ctx, "u1", tok); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = d.GetToken(ctx, "u1")
	if got.AccessToken != "b" {
		t.Errorf("token not replaced, got %q", got.AccessToken)
	}
}

func TestPlayIngestionAndCursor(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := Play{TrackID: "t1", TrackName: "Song", ArtistName: "Artist", PlayedAt: base}
	if err := d.AddPlay(ctx, "u1", p); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Same play again is ignored.
	if err := d.AddPlay(ctx, "u1", p); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	plays, err := d.RecentPlays(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(plays) != 1 {
		t.Fatalf("duplicate play stored, got %d rows", len(plays))
	}

	last, err := d.LastPlayedAt(ctx, "u1")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if !last.Equal(base) {
		t.Errorf("cursor = %v, want %v", last, base)
	}

	// The cursor tracks the newest play, not insertion order.
	older := Play{TrackID: "t0", TrackName: "Older", ArtistName: "Artist", PlayedAt: base.Add(-time.Hour)}
	newer := Play{TrackID: "t2", TrackName: "Newer", ArtistName: "Artist", PlayedAt: base.Add(time.Hour)}
	for _, p := range []Play{newer, older} {
		if err := d.AddPlay(ctx, "u1", p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	last, err = d.LastPlayedAt(ctx, "u1")
	if err != nil {
		t.Fatalf("last after more plays: %v", err)
	}
	if !last.Equal(base.Add(time.Hour)) {
		t.Errorf("cursor = %v, want %v", last, base.Add(time.Hour))
	}

	// No plays for another user means a zero cursor.
	last, err = d.LastPlayedAt(ctx, "nobody")
	if err != nil {
		t.Fatalf("last empty: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("expected zero cursor, got %v", last)
	}
}

func TestTopQueriesOrdering(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	add := func(track, artist string, n int) {
		for i := 0; i < n; i++ {
			p := Play{TrackID: track, TrackName: track, ArtistName: artist, PlayedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := d.AddPlay(ctx, "u1", p); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
	}
	add("t-a", "Alpha", 3)
	add("t-b", "Beta", 5)
	add("t-c", "Alpha", 1)

	artists, err := d.TopArtistsSince(ctx, "u1", base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("top artists: %v", err)
	}
	if len(artists) != 2 || artists[0].Artist != "Beta" || artists[0].Count != 5 {
		t.Errorf("unexpected top artists %+v", artists)
	}
	if artists[1].Artist != "Alpha" || artists[1].Count != 4 {
		t.Errorf("unexpected second artist %+v", artists[1])
	}

	tracks, err := d.TopTracksSince(ctx, "u1", base.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("top tracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0].TrackID != "t-b" {
		t.Errorf("unexpected top tracks %+v", tracks)
	}

	months, err := d.MonthlyPlayCountsSince(ctx, "u1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(months) != 1 || months[0].Month != "2025-06" || months[0].Count != 9 {
		t.Errorf("unexpected monthly counts %+v", months)
	}
}
