package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"Soundlytics/pkg/db"
	"Soundlytics/pkg/music"
)

type fakeStore struct {
	users   []string
	cursors map[string]time.Time
	plays   map[string][]db.Play
}

func newFakeStore(users ...string) *fakeStore {
	return &fakeStore{
		users:   users,
		cursors: map[string]time.Time{},
		plays:   map[string][]db.Play{},
	}
}

func (s *fakeStore) UserIDs(ctx context.Context) ([]string, error) { return s.users, nil }

func (s *fakeStore) LastPlayedAt(ctx context.Context, userID string) (time.Time, error) {
	return s.cursors[userID], nil
}

func (s *fakeStore) AddPlay(ctx context.Context, userID string, p db.Play) error {
	s.plays[userID] = append(s.plays[userID], p)
	if p.PlayedAt.After(s.cursors[userID]) {
		s.cursors[userID] = p.PlayedAt
	}
	return nil
}

type fakeHistory struct {
	all       []music.Play
	since     []music.Play
	err       error
	allCalls  int
	sinceFrom []time.Time
}

func (h *fakeHistory) RecentlyPlayedAll(ctx context.Context) ([]music.Play, error) {
	h.allCalls++
	return h.all, h.err
}

func (h *fakeHistory) RecentlyPlayedSince(ctx context.Context, after time.Time) ([]music.Play, error) {
	h.sinceFrom = append(h.sinceFrom, after)
	return h.since, h.err
}

func play(id, name, artist string, at time.Time) music.Play {
	return music.Play{
		Track:    music.Track{ID: id, Name: name, Artists: []music.Artist{{Name: artist}}},
		PlayedAt: at,
	}
}

func TestSyncUserBackfillsWhenNoCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	store := newFakeStore("u1")
	hist := &fakeHistory{all: []music.Play{
		play("t1", "One", "A", now.Add(-time.Hour)),
		play("t2", "Two", "B", now),
	}}
	p := New(store, func(string) History { return hist }, time.Minute, nil)

	n, err := p.SyncUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(store.plays["u1"]) != 2 {
		t.Fatalf("expected full backfill, got n=%d plays=%d", n, len(store.plays["u1"]))
	}
	if hist.allCalls != 1 || len(hist.sinceFrom) != 0 {
		t.Errorf("expected one backfill call, got all=%d since=%d", hist.allCalls, len(hist.sinceFrom))
	}
	if got := store.plays["u1"][1]; got.ArtistName != "B" || !got.PlayedAt.Equal(now) {
		t.Errorf("unexpected stored play %+v", got)
	}
}

func TestSyncUserUsesCursorForIncrementalFetch(t *testing.T) {
	cursor := time.Now().UTC().Add(-time.Hour)
	store := newFakeStore("u1")
	store.cursors["u1"] = cursor
	hist := &fakeHistory{since: []music.Play{play("t3", "Three", "C", time.Now().UTC())}}
	p := New(store, func(string) History { return hist }, time.Minute, nil)

	n, err := p.SyncUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one play, got %d", n)
	}
	if hist.allCalls != 0 || len(hist.sinceFrom) != 1 || !hist.sinceFrom[0].Equal(cursor) {
		t.Errorf("expected incremental fetch from cursor, got %+v", hist)
	}
}

func TestSyncUserSkipsPlaysWithoutTrackID(t *testing.T) {
	store := newFakeStore("u1")
	hist := &fakeHistory{all: []music.Play{
		play("", "Ghost", "X", time.Now()),
		play("t1", "Real", "Y", time.Now()),
	}}
	p := New(store, func(string) History { return hist }, time.Minute, nil)

	if _, err := p.SyncUser(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.plays["u1"]) != 1 || store.plays["u1"][0].TrackID != "t1" {
		t.Errorf("expected only the identified play stored, got %+v", store.plays["u1"])
	}
}

func TestSyncUserSourceFailureSurfaces(t *testing.T) {
	store := newFakeStore("u1")
	wantErr := errors.New("not authenticated")
	hist := &fakeHistory{err: wantErr}
	p := New(store, func(string) History { return hist }, time.Minute, nil)

	if _, err := p.SyncUser(context.Background(), "u1"); !errors.Is(err, wantErr) {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(store.plays["u1"]) != 0 {
		t.Errorf("no plays should be stored on failure")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	p := New(store, func(string) History { return &fakeHistory{} }, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
