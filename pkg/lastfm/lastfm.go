// Package lastfm implements the typed client for the artist/track
// similarity API. Requests are plain API-key authenticated GETs routed
// through the shared transport, and responses are loosely-typed JSON
// documents read defensively. Similarity lists are stable for weeks and are
// cached accordingly.
package lastfm

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/music"
	"Soundlytics/pkg/transport"
)

// DefaultBaseURL is the production similarity endpoint.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0"

const similarTTL = 30 * 24 * time.Hour

// Config bundles the client dependencies.
type Config struct {
	Transport *transport.Client
	Cache     cache.Store
	APIKey    string
	BaseURL   string
	Logger    logrus.FieldLogger
}

// Client queries the similarity service.
type Client struct {
	transport *transport.Client
	cache     cache.Store
	apiKey    string
	baseURL   string
	log       logrus.FieldLogger
}

// New returns a Client for the given API key.
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
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		log:       cfg.Logger,
	}
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("method", method)
	q.Set("api_key", c.apiKey)
	q.Set("format", "json")
	return c.transport.Get(ctx, c.baseURL, q, nil)
}

// SimilarArtists returns artists similar to the named one, most similar
// first. Cached for 30 days per name and limit.
func (c *Client) SimilarArtists(ctx context.Context, artist string, limit int) ([]music.SimilarArtist, error) {
	key := cache.Key("similar_artists", strconv.Itoa(limit), artist)
	return cache.GetOrFetch(ctx, c.cache, key, similarTTL, func(ctx context.Context) ([]music.SimilarArtist, error) {
		raw, err := c.call(ctx, "artist.getsimilar", url.Values{
			"artist": {artist},
			"limit":  {strconv.Itoa(limit)},
		})
		if err != nil {
			return nil, err
		}
		var w struct {
			SimilarArtists struct {
				Artist []struct {
					Name  string `json:"name"`
					MBID  string `json:"mbid"`
					Match string `json:"match"`
				} `json:"artist"`
			} `json:"similarartists"`
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &w)
		}
		out := make([]music.SimilarArtist, 0, len(w.SimilarArtists.Artist))
		for _, a := range w.SimilarArtists.Artist {
			if a.Name == "" {
				continue
			}
			sa := music.SimilarArtist{Name: a.Name, MBID: a.MBID}
			if m, err := strconv.ParseFloat(a.Match, 64); err == nil {
				sa.Match = m
			}
			out = append(out, sa)
		}
		return out, nil
	})
}

// SimilarTracks returns tracks similar to the given artist and track name.
func (c *Client) SimilarTracks(ctx context.Context, artist, track string, limit int) ([]music.SimilarTrack, error) {
	key := cache.Key("similar_tracks", strconv.Itoa(limit), artist, track)
	return cache.GetOrFetch(ctx, c.cache, key, similarTTL, func(ctx context.Context) ([]music.SimilarTrack, error) {
		raw, err := c.call(ctx, "track.getsimilar", url.Values{
			"artist": {artist},
			"track":  {track},
			"limit":  {strconv.Itoa(limit)},
		})
		if err != nil {
			return nil, err
		}
		var w struct {
			SimilarTracks struct {
				Track []struct {
					Name   string `json:"name"`
					URL    string `json:"url"`
					Artist struct {
						Name string `json:"name"`
						MBID string `json:"mbid"`
					} `json:"artist"`
				} `json:"track"`
			} `json:"similartracks"`
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &w)
		}
		out := make([]music.SimilarTrack, 0, len(w.SimilarTracks.Track))
		for _, t := range w.SimilarTracks.Track {
			if t.Name == "" {
				continue
			}
			out = append(out, music.SimilarTrack{
				Name:   t.Name,
				URL:    t.URL,
				Artist: music.SimilarArtist{Name: t.Artist.Name, MBID: t.Artist.MBID},
			})
		}
		return out, nil
	})
}
