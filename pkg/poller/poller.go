// Package poller ingests listening history in the background. On every tick
// it asks the store for each user's newest stored play, fetches anything
// newer from the catalog's recently-played feed, and appends it. The insert
// is idempotent, so overlapping windows are harmless.
package poller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"Soundlytics/pkg/db"
	"Soundlytics/pkg/music"
)

// History is the slice of the catalog client the poller consumes. A fresh
// value is built per user because catalog calls carry per-user credentials.
type History interface {
	RecentlyPlayedAll(ctx context.Context) ([]music.Play, error)
	RecentlyPlayedSince(ctx context.Context, after time.Time) ([]music.Play, error)
}

// Store is the persistence surface the poller writes through.
type Store interface {
	UserIDs(ctx context.Context) ([]string, error)
	LastPlayedAt(ctx context.Context, userID string) (time.Time, error)
	AddPlay(ctx context.Context, userID string, p db.Play) error
}

// Poller periodically syncs play history for every known user.
type Poller struct {
	Store    Store
	Source   func(userID string) History
	Interval time.Duration
	Log      logrus.FieldLogger
}

// New returns a Poller. source builds the per-user history client.
func New(store Store, source func(userID string) History, interval time.Duration, log logrus.FieldLogger) *Poller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{Store: store, Source: source, Interval: interval, Log: log}
}

// Run syncs all users immediately and then on every tick until ctx is
// cancelled. Per-user failures are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) {
	p.syncAll(ctx)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.syncAll(ctx)
		}
	}
}

func (p *Poller) syncAll(ctx context.Context) {
	users, err := p.Store.UserIDs(ctx)
	if err != nil {
		p.Log.WithError(err).Error("listing users for history sync")
		return
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if n, err := p.SyncUser(ctx, userID); err != nil {
			p.Log.WithField("user", userID).WithError(err).Warn("history sync failed")
		} else if n > 0 {
			p.Log.WithFields(logrus.Fields{"user": userID, "plays": n}).Info("history synced")
		}
	}
}

// SyncUser ingests one user's plays newer than the stored cursor and
// returns how many were fetched. A user with no history gets a full
// backfill of the recently-played feed.
func (p *Poller) SyncUser(ctx context.Context, userID string) (int, error) {
	cursor, err := p.Store.LastPlayedAt(ctx, userID)
	if err != nil {
		return 0, err
	}
	src := p.Source(userID)
	var plays []music.Play
	if cursor.IsZero() {
		plays, err = src.RecentlyPlayedAll(ctx)
	} else {
		plays, err = src.RecentlyPlayedSince(ctx, cursor)
	}
	if err != nil {
		return 0, err
	}
	for _, play := range plays {
		if play.Track.ID == "" {
			continue
		}
		err := p.Store.AddPlay(ctx, userID, db.Play{
			TrackID:    play.Track.ID,
			TrackName:  play.Track.Name,
			ArtistName: play.Track.ArtistName(),
			PlayedAt:   play.PlayedAt,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(plays), nil
}
