// Package music defines the data structures shared by the upstream clients
// and implements the aggregation routines that combine catalog, similarity
// and preview lookups into single answers. The types are defensive
// projections of loosely-typed upstream JSON documents: any missing field
// simply decodes to its zero value.
package music

import (
	"fmt"
	"time"
)

// Image is artwork at one resolution.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Artist is a catalog artist. Only ID is required; everything else may be
// absent depending on the endpoint that produced it.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity"`
	Images     []Image  `json:"images,omitempty"`
	Followers  int      `json:"followers"`
}

// Album is a catalog album. Tracks is populated only by the full album
// endpoint; listing endpoints return albums without track items.
type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ReleaseDate string   `json:"release_date"`
	AlbumType   string   `json:"album_type"`
	TotalTracks int      `json:"total_tracks"`
	Images      []Image  `json:"images,omitempty"`
	Artists     []Artist `json:"artists,omitempty"`
	Tracks      []Track  `json:"tracks,omitempty"`
}

// Track is a catalog track, optionally enriched with a preview URL from the
// secondary lookup service when the catalog lacks one.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists,omitempty"`
	Album      *Album   `json:"album,omitempty"`
	DurationMS int      `json:"duration_ms"`
	Popularity int      `json:"popularity"`
	PreviewURL string   `json:"preview_url,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
}

// ArtistName returns the primary artist's name or "" when unknown.
func (t Track) ArtistName() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

// Duration renders the track length as m:ss.
func (t Track) Duration() string {
	total := t.DurationMS / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Play is one listening-history event.
type Play struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// SearchResult groups the item lists a free-form catalog search returns.
type SearchResult struct {
	Tracks  []Track  `json:"tracks,omitempty"`
	Artists []Artist `json:"artists,omitempty"`
	Albums  []Album  `json:"albums,omitempty"`
}

// SimilarArtist is a similarity-service artist reference. It carries no
// catalog ID; resolution against the catalog happens at the aggregation
// layer.
type SimilarArtist struct {
	Name  string  `json:"name"`
	MBID  string  `json:"mbid,omitempty"`
	Match float64 `json:"match,omitempty"`
}

// SimilarTrack is a similarity-service track reference.
type SimilarTrack struct {
	Name   string        `json:"name"`
	Artist SimilarArtist `json:"artist"`
	URL    string        `json:"url,omitempty"`
}

// AlbumListing is one album of a discography annotated with fully fetched
// track details in album order.
type AlbumListing struct {
	Album  Album   `json:"album"`
	Tracks []Track `json:"tracks"`
}

// Discography is the reconciled set of an artist's albums and tracks.
type Discography struct {
	Artist Artist         `json:"artist"`
	Albums []AlbumListing `json:"albums"`
}
