package spotify

import "Soundlytics/pkg/music"

// Wire types mirror the subset of the catalog JSON documents this client
// reads. Upstream shapes are loosely typed; every field here may be absent.

type wireImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type wireArtist struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Genres     []string    `json:"genres"`
	Popularity int         `json:"popularity"`
	Images     []wireImage `json:"images"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
}

type wireAlbum struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	ReleaseDate string       `json:"release_date"`
	AlbumType   string       `json:"album_type"`
	TotalTracks int          `json:"total_tracks"`
	Images      []wireImage  `json:"images"`
	Artists     []wireArtist `json:"artists"`
	Tracks      struct {
		Items []wireTrack `json:"items"`
	} `json:"tracks"`
}

type wireTrack struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Artists    []wireArtist `json:"artists"`
	Album      *wireAlbum   `json:"album"`
	DurationMS int          `json:"duration_ms"`
	Popularity int          `json:"popularity"`
	PreviewURL string       `json:"preview_url"`
}

func toImages(ws []wireImage) []music.Image {
	if len(ws) == 0 {
		return nil
	}
	out := make([]music.Image, len(ws))
	for i, w := range ws {
		out[i] = music.Image(w)
	}
	return out
}

func (w wireArtist) toArtist() music.Artist {
	return music.Artist{
		ID:         w.ID,
		Name:       w.Name,
		Genres:     w.Genres,
		Popularity: w.Popularity,
		Images:     toImages(w.Images),
		Followers:  w.Followers.Total,
	}
}

func (w wireAlbum) toAlbum() music.Album {
	a := music.Album{
		ID:          w.ID,
		Name:        w.Name,
		ReleaseDate: w.ReleaseDate,
		AlbumType:   w.AlbumType,
		TotalTracks: w.TotalTracks,
		Images:      toImages(w.Images),
	}
	for _, wa := range w.Artists {
		a.Artists = append(a.Artists, wa.toArtist())
	}
	for _, wt := range w.Tracks.Items {
		a.Tracks = append(a.Tracks, wt.toTrack())
	}
	return a
}

func (w wireTrack) toTrack() music.Track {
	t := music.Track{
		ID:         w.ID,
		Name:       w.Name,
		DurationMS: w.DurationMS,
		Popularity: w.Popularity,
		PreviewURL: w.PreviewURL,
	}
	for _, wa := range w.Artists {
		t.Artists = append(t.Artists, wa.toArtist())
	}
	if w.Album != nil {
		// Album tracks are dropped here; a track's album reference
		// never carries the full listing.
		album := music.Album{
			ID:          w.Album.ID,
			Name:        w.Album.Name,
			ReleaseDate: w.Album.ReleaseDate,
			AlbumType:   w.Album.AlbumType,
			Images:      toImages(w.Album.Images),
		}
		t.Album = &album
	}
	return t
}
