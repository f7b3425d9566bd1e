// Package spotify implements the typed client for the primary music catalog
// API. Every operation obtains the user's access token, builds the request,
// reads through the cache-aside layer where the data kind allows it, and
// shapes the loosely-typed JSON response into the music package's types.
// Missing fields default to zero values; an upstream that returns no data
// yields empty results rather than errors. Only a missing or unrefreshable
// token is a hard failure.
package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/music"
	"Soundlytics/pkg/transport"
)

// DefaultBaseURL is the production catalog endpoint.
const DefaultBaseURL = "https://api.spotify.com/v1"

// TTLs per data kind. Track, artist and album detail are stable for weeks;
// top tracks shift faster; listing data is not cached at all.
const (
	detailTTL    = 30 * 24 * time.Hour
	topTracksTTL = 7 * 24 * time.Hour
)

// Pagination bounds for the recently-played history.
const (
	pageLimit         = 50
	maxRecentlyPlayed = 350
)

// TokenProvider yields the current access token for a user, refreshing it
// when expired. Implemented by pkg/auth.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Config bundles the client dependencies.
type Config struct {
	Transport *transport.Client
	Cache     cache.Store
	Tokens    TokenProvider
	UserID    string
	BaseURL   string
	Logger    logrus.FieldLogger
}

// Client is a catalog client bound to one user session.
type Client struct {
	transport *transport.Client
	cache     cache.Store
	tokens    TokenProvider
	userID    string
	baseURL   string
	log       logrus.FieldLogger
}

// New returns a Client for cfg.UserID.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	return &Client{
		transport: cfg.Transport,
		cache:     cfg.Cache,
		tokens:    cfg.Tokens,
		userID:    cfg.UserID,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		log:       cfg.Logger,
	}
}

// get performs an authenticated catalog GET. rawURL may be a bare endpoint
// ("tracks/abc") or an absolute URL, which pagination cursors are.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) (json.RawMessage, error) {
	tok, err := c.tokens.Token(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = c.baseURL + "/" + rawURL
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	return c.transport.Get(ctx, rawURL, params, header)
}

// Track returns full details for one track. Cached for 30 days.
func (c *Client) Track(ctx context.Context, trackID string) (music.Track, error) {
	return cache.GetOrFetch(ctx, c.cache, cache.Key("track", trackID), detailTTL, func(ctx context.Context) (music.Track, error) {
		raw, err := c.get(ctx, "tracks/"+trackID, nil)
		if err != nil {
			return music.Track{}, err
		}
		var w wireTrack
		decode(raw, &w)
		return w.toTrack(), nil
	})
}

// Tracks fetches up to 50 tracks in one request. Results follow the order
// the upstream returns; missing IDs are simply absent. Not cached: the
// aggregation layer partitions arbitrary ID sets, so per-call keys would
// rarely repeat.
func (c *Client) Tracks(ctx context.Context, trackIDs []string) ([]music.Track, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}
	raw, err := c.get(ctx, "tracks", url.Values{"ids": {strings.Join(trackIDs, ",")}})
	if err != nil {
		return nil, err
	}
	var w struct {
		Tracks []wireTrack `json:"tracks"`
	}
	decode(raw, &w)
	out := make([]music.Track, 0, len(w.Tracks))
	for _, t := range w.Tracks {
		if t.ID == "" {
			continue
		}
		out = append(out, t.toTrack())
	}
	return out, nil
}

// Artist returns details for one artist. Cached for 30 days.
func (c *Client) Artist(ctx context.Context, artistID string) (music.Artist, error) {
	return cache.GetOrFetch(ctx, c.cache, cache.Key("artist", artistID), detailTTL, func(ctx context.Context) (music.Artist, error) {
		raw, err := c.get(ctx, "artists/"+artistID, nil)
		if err != nil {
			return music.Artist{}, err
		}
		var w wireArtist
		decode(raw, &w)
		return w.toArtist(), nil
	})
}

// Artists fetches several artists in one request.
func (c *Client) Artists(ctx context.Context, artistIDs []string) ([]music.Artist, error) {
	if len(artistIDs) == 0 {
		return nil, nil
	}
	raw, err := c.get(ctx, "artists", url.Values{"ids": {strings.Join(artistIDs, ",")}})
	if err != nil {
		return nil, err
	}
	var w struct {
		Artists []wireArtist `json:"artists"`
	}
	decode(raw, &w)
	out := make([]music.Artist, 0, len(w.Artists))
	for _, a := range w.Artists {
		if a.ID == "" {
			continue
		}
		out = append(out, a.toArtist())
	}
	return out, nil
}

// SearchArtist returns the best catalog match for an artist name, or a zero
// Artist when nothing matches.
func (c *Client) SearchArtist(ctx context.Context, name string) (music.Artist, error) {
	raw, err := c.get(ctx, "search", url.Values{"q": {name}, "type": {"artist"}, "limit": {"1"}})
	if err != nil {
		return music.Artist{}, err
	}
	var w struct {
		Artists struct {
			Items []wireArtist `json:"items"`
		} `json:"artists"`
	}
	decode(raw, &w)
	if len(w.Artists.Items) == 0 {
		return music.Artist{}, nil
	}
	return w.Artists.Items[0].toArtist(), nil
}

// SearchAlbum returns the best catalog match for an album name.
func (c *Client) SearchAlbum(ctx context.Context, name string) (music.Album, error) {
	raw, err := c.get(ctx, "search", url.Values{"q": {name}, "type": {"album"}, "limit": {"1"}})
	if err != nil {
		return music.Album{}, err
	}
	var w struct {
		Albums struct {
			Items []wireAlbum `json:"items"`
		} `json:"albums"`
	}
	decode(raw, &w)
	if len(w.Albums.Items) == 0 {
		return music.Album{}, nil
	}
	return w.Albums.Items[0].toAlbum(), nil
}

// TrackID resolves a song and artist name to a catalog track ID, or ""
// when nothing matches.
func (c *Client) TrackID(ctx context.Context, song, artist string) (string, error) {
	q := "track:" + song + " artist:" + artist
	raw, err := c.get(ctx, "search", url.Values{"q": {q}, "type": {"track"}, "limit": {"1"}})
	if err != nil {
		return "", err
	}
	var w struct {
		Tracks struct {
			Items []wireTrack `json:"items"`
		} `json:"tracks"`
	}
	decode(raw, &w)
	if len(w.Tracks.Items) == 0 {
		return "", nil
	}
	return w.Tracks.Items[0].ID, nil
}

// Search runs a free-form query across tracks, artists and albums.
// Listing data; not cached.
func (c *Client) Search(ctx context.Context, query string) (music.SearchResult, error) {
	raw, err := c.get(ctx, "search", url.Values{"q": {query}, "type": {"track,artist,album"}, "limit": {"25"}})
	if err != nil {
		return music.SearchResult{}, err
	}
	var w struct {
		Tracks struct {
			Items []wireTrack `json:"items"`
		} `json:"tracks"`
		Artists struct {
			Items []wireArtist `json:"items"`
		} `json:"artists"`
		Albums struct {
			Items []wireAlbum `json:"items"`
		} `json:"albums"`
	}
	decode(raw, &w)
	var res music.SearchResult
	for _, t := range w.Tracks.Items {
		res.Tracks = append(res.Tracks, t.toTrack())
	}
	for _, a := range w.Artists.Items {
		res.Artists = append(res.Artists, a.toArtist())
	}
	for _, a := range w.Albums.Items {
		res.Albums = append(res.Albums, a.toAlbum())
	}
	return res, nil
}

// validAlbumGroups is the set of release types the albums endpoint accepts.
var validAlbumGroups = map[string]bool{
	"album":       true,
	"single":      true,
	"compilation": true,
	"appears_on":  true,
}

// ArtistAlbums lists an artist's releases, optionally filtered by release
// group. Cached for 30 days per filter combination.
func (c *Client) ArtistAlbums(ctx context.Context, artistID string, groups []string) ([]music.Album, error) {
	valid := make([]string, 0, len(groups))
	for _, g := range groups {
		if validAlbumGroups[g] {
			valid = append(valid, g)
		}
	}
	key := cache.Key("artist_albums", artistID, strings.Join(valid, ","))
	return cache.GetOrFetch(ctx, c.cache, key, detailTTL, func(ctx context.Context) ([]music.Album, error) {
		params := url.Values{"limit": {"50"}}
		if len(valid) > 0 {
			params.Set("include_groups", strings.Join(valid, ","))
		}
		raw, err := c.get(ctx, "artists/"+artistID+"/albums", params)
		if err != nil {
			return nil, err
		}
		var w struct {
			Items []wireAlbum `json:"items"`
		}
		decode(raw, &w)
		out := make([]music.Album, 0, len(w.Items))
		for _, a := range w.Items {
			out = append(out, a.toAlbum())
		}
		return out, nil
	})
}

// ArtistTopAlbums returns an artist's top full-length albums, de-duplicated
// by name so reissues collapse into one entry.
func (c *Client) ArtistTopAlbums(ctx context.Context, artistID, market string, limit int) ([]music.Album, error) {
	params := url.Values{
		"include_groups": {"album"},
		"market":         {market},
		"limit":          {"50"},
	}
	raw, err := c.get(ctx, "artists/"+artistID+"/albums", params)
	if err != nil {
		return nil, err
	}
	var w struct {
		Items []wireAlbum `json:"items"`
	}
	decode(raw, &w)
	seen := make(map[string]bool)
	var out []music.Album
	for _, a := range w.Items {
		if a.Name == "" || seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		out = append(out, a.toAlbum())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ArtistTopTracks returns up to n of an artist's most popular tracks.
// Cached for 7 days.
func (c *Client) ArtistTopTracks(ctx context.Context, artistID string, n int) ([]music.Track, error) {
	key := cache.Key("artist_top_tracks", artistID, strconv.Itoa(n))
	return cache.GetOrFetch(ctx, c.cache, key, topTracksTTL, func(ctx context.Context) ([]music.Track, error) {
		raw, err := c.get(ctx, "artists/"+artistID+"/top-tracks", url.Values{"market": {"UK"}})
		if err != nil {
			return nil, err
		}
		var w struct {
			Tracks []wireTrack `json:"tracks"`
		}
		decode(raw, &w)
		out := make([]music.Track, 0, n)
		for _, t := range w.Tracks {
			out = append(out, t.toTrack())
			if len(out) == n {
				break
			}
		}
		return out, nil
	})
}

// Album returns full album details including its track listing. Cached for
// 30 days.
func (c *Client) Album(ctx context.Context, albumID string) (music.Album, error) {
	return cache.GetOrFetch(ctx, c.cache, cache.Key("album", albumID), detailTTL, func(ctx context.Context) (music.Album, error) {
		raw, err := c.get(ctx, "albums/"+albumID, nil)
		if err != nil {
			return music.Album{}, err
		}
		var w wireAlbum
		decode(raw, &w)
		return w.toAlbum(), nil
	})
}

// NewReleases lists newly released albums for a market.
func (c *Client) NewReleases(ctx context.Context, country string, limit int) ([]music.Album, error) {
	params := url.Values{"country": {country}, "limit": {strconv.Itoa(limit)}}
	raw, err := c.get(ctx, "browse/new-releases", params)
	if err != nil {
		return nil, err
	}
	var w struct {
		Albums struct {
			Items []wireAlbum `json:"items"`
		} `json:"albums"`
	}
	decode(raw, &w)
	out := make([]music.Album, 0, len(w.Albums.Items))
	for _, a := range w.Albums.Items {
		out = append(out, a.toAlbum())
	}
	return out, nil
}

// ItemsByGenre searches artists and tracks tagged with a genre.
func (c *Client) ItemsByGenre(ctx context.Context, genre string) ([]music.Artist, []music.Track, error) {
	q := `genre:"` + genre + `"`
	raw, err := c.get(ctx, "search", url.Values{"q": {q}, "type": {"artist,track"}, "limit": {"25"}})
	if err != nil {
		return nil, nil, err
	}
	var w struct {
		Artists struct {
			Items []wireArtist `json:"items"`
		} `json:"artists"`
		Tracks struct {
			Items []wireTrack `json:"items"`
		} `json:"tracks"`
	}
	decode(raw, &w)
	var artists []music.Artist
	for _, a := range w.Artists.Items {
		artists = append(artists, a.toArtist())
	}
	var tracks []music.Track
	for _, t := range w.Tracks.Items {
		tracks = append(tracks, t.toTrack())
	}
	return artists, tracks, nil
}

// RecentlyPlayed returns the user's newest plays, at most limit items.
func (c *Client) RecentlyPlayed(ctx context.Context, limit int) ([]music.Play, error) {
	plays, _, err := c.recentlyPlayedPage(ctx, "me/player/recently-played", url.Values{"limit": {strconv.Itoa(limit)}})
	return plays, err
}

// RecentlyPlayedAll walks the recently-played pages, following next cursors
// until 350 items have accumulated or the history ends.
func (c *Client) RecentlyPlayedAll(ctx context.Context) ([]music.Play, error) {
	rawURL := "me/player/recently-played"
	params := url.Values{"limit": {strconv.Itoa(pageLimit)}}

	var all []music.Play
	for rawURL != "" && len(all) < maxRecentlyPlayed {
		plays, next, err := c.recentlyPlayedPage(ctx, rawURL, params)
		if err != nil {
			return all, err
		}
		all = append(all, plays...)
		if len(plays) == 0 {
			break
		}
		rawURL = next
		// The next cursor is an absolute URL carrying its own query.
		params = nil
	}
	if len(all) > maxRecentlyPlayed {
		all = all[:maxRecentlyPlayed]
	}
	return all, nil
}

// RecentlyPlayedSince returns plays newer than the given time.
func (c *Client) RecentlyPlayedSince(ctx context.Context, after time.Time) ([]music.Play, error) {
	params := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}
	plays, _, err := c.recentlyPlayedPage(ctx, "me/player/recently-played", params)
	return plays, err
}

func (c *Client) recentlyPlayedPage(ctx context.Context, rawURL string, params url.Values) ([]music.Play, string, error) {
	raw, err := c.get(ctx, rawURL, params)
	if err != nil {
		return nil, "", err
	}
	var w struct {
		Items []struct {
			Track    wireTrack `json:"track"`
			PlayedAt string    `json:"played_at"`
		} `json:"items"`
		Next string `json:"next"`
	}
	decode(raw, &w)
	plays := make([]music.Play, 0, len(w.Items))
	for _, it := range w.Items {
		if it.Track.ID == "" {
			continue
		}
		p := music.Play{Track: it.Track.toTrack()}
		if ts, err := time.Parse(time.RFC3339, it.PlayedAt); err == nil {
			p.PlayedAt = ts
		}
		plays = append(plays, p)
	}
	return plays, w.Next, nil
}

// decode unmarshals raw into v, tolerating empty and malformed documents.
func decode(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}
