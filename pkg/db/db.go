// Package db provides the persistence collaborator for the aggregation
// core. It wraps a SQLite database holding OAuth tokens and the ingested
// play history, and exposes the top-N queries whose results are handed to
// the aggregation routines as plain data. Callers open a single DB instance
// with New and reuse it for all operations.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

// DB wraps a sql.DB connection and exposes helper methods for the
// application's persistence layer.
type DB struct {
	*sql.DB
}

// New opens the SQLite database located at path, creating it and the
// required schema when missing.
func New(path string) (*DB, error) {
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tokens (user_id TEXT PRIMARY KEY, token TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS plays (id INTEGER PRIMARY KEY AUTOINCREMENT, user_id TEXT, track_id TEXT, track_name TEXT, artist_name TEXT, played_at TIMESTAMP)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plays_user_played ON plays(user_id, track_id, played_at)`,
		`CREATE INDEX IF NOT EXISTS idx_plays_user_time ON plays(user_id, played_at)`,
	}
	for _, s := range stmts {
		if _, err := d.Exec(s); err != nil {
			d.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}
	return &DB{d}, nil
}

// SaveToken persists the OAuth token for userID, replacing any existing one.
func (db *DB) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	b, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO tokens(user_id, token) VALUES(?, ?) ON CONFLICT(user_id) DO UPDATE SET token=excluded.token`, userID, string(b))
	return err
}

// GetToken retrieves the OAuth token stored for userID. The returned token
// includes the refresh token if one was originally saved.
func (db *DB) GetToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	var data string
	if err := db.QueryRowContext(ctx, `SELECT token FROM tokens WHERE user_id=?`, userID).Scan(&data); err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// UserIDs lists every user with a stored token. The poller syncs each of
// them on every tick.
func (db *DB) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT user_id FROM tokens ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Play is one stored listening event.
type Play struct {
	TrackID    string
	TrackName  string
	ArtistName string
	PlayedAt   time.Time
}

// AddPlay records a listening event. Re-ingesting the same play (same user,
// track and timestamp) is a no-op so the poller can safely overlap fetch
// windows.
func (db *DB) AddPlay(ctx context.Context, userID string, p Play) error {
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO plays(user_id, track_id, track_name, artist_name, played_at) VALUES(?,?,?,?,?)`,
		userID, p.TrackID, p.TrackName, p.ArtistName, p.PlayedAt)
	return err
}

// LastPlayedAt returns the timestamp of the newest stored play for userID,
// or the zero time when no plays exist. The poller uses it as the "after"
// cursor for incremental ingestion. Selecting the column directly rather
// than MAX() keeps its TIMESTAMP decltype, which the driver needs to hand
// back a time.Time.
func (db *DB) LastPlayedAt(ctx context.Context, userID string) (time.Time, error) {
	var ts time.Time
	err := db.QueryRowContext(ctx, `SELECT played_at FROM plays WHERE user_id=? ORDER BY played_at DESC LIMIT 1`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// RecentPlays returns the newest plays for userID, most recent first.
func (db *DB) RecentPlays(ctx context.Context, userID string, limit int) ([]Play, error) {
	rows, err := db.QueryContext(ctx, `SELECT track_id, track_name, artist_name, played_at FROM plays WHERE user_id=? ORDER BY played_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Play
	for rows.Next() {
		var p Play
		if err := rows.Scan(&p.TrackID, &p.TrackName, &p.ArtistName, &p.PlayedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ArtistCount represents how many times an artist was played.
type ArtistCount struct {
	Artist string
	Count  int
}

// TopArtistsSince returns the most played artists since the provided time.
func (db *DB) TopArtistsSince(ctx context.Context, userID string, since time.Time, limit int) ([]ArtistCount, error) {
	rows, err := db.QueryContext(ctx, `SELECT artist_name, COUNT(*) c FROM plays WHERE user_id=? AND played_at>=? GROUP BY artist_name ORDER BY c DESC LIMIT ?`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ArtistCount
	for rows.Next() {
		var ac ArtistCount
		if err := rows.Scan(&ac.Artist, &ac.Count); err != nil {
			return nil, err
		}
		res = append(res, ac)
	}
	return res, rows.Err()
}

// TrackCount represents how many times a specific track was played.
type TrackCount struct {
	TrackID   string
	TrackName string
	Count     int
}

// TopTracksSince returns the most played tracks since the given time.
func (db *DB) TopTracksSince(ctx context.Context, userID string, since time.Time, limit int) ([]TrackCount, error) {
	rows, err := db.QueryContext(ctx, `SELECT track_id, track_name, COUNT(*) c FROM plays WHERE user_id=? AND played_at>=? GROUP BY track_id ORDER BY c DESC LIMIT ?`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(&tc.TrackID, &tc.TrackName, &tc.Count); err != nil {
			return nil, err
		}
		res = append(res, tc)
	}
	return res, rows.Err()
}

// MonthCount groups play count totals by month in YYYY-MM format.
type MonthCount struct {
	Month string
	Count int
}

// MonthlyPlayCountsSince aggregates listening history per month starting
// from the provided time, ordered chronologically.
func (db *DB) MonthlyPlayCountsSince(ctx context.Context, userID string, since time.Time) ([]MonthCount, error) {
	rows, err := db.QueryContext(ctx, `SELECT strftime('%Y-%m', played_at) m, COUNT(*) c FROM plays WHERE user_id=? AND played_at>=? GROUP BY m ORDER BY m`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []MonthCount
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.Month, &mc.Count); err != nil {
			return nil, err
		}
		res = append(res, mc)
	}
	return res, rows.Err()
}
