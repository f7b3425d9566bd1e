// Package deezer implements the preview-audio lookup client. The primary
// catalog frequently omits preview URLs, so track details fall back to this
// service's fuzzier index. Track names are sanitized before the lookup
// because remix suffixes and parenthetical qualifiers tank the match rate.
// Successful lookups are cached for a week under a key derived from the
// sanitized name.
package deezer

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/transport"
)

// DefaultBaseURL is the production lookup endpoint.
const DefaultBaseURL = "https://api.deezer.com"

const previewTTL = 7 * 24 * time.Hour

// Config bundles the client dependencies.
type Config struct {
	Transport *transport.Client
	Cache     cache.Store
	BaseURL   string
	Logger    logrus.FieldLogger
}

// Client looks up 30-second preview URLs. The lookup API needs no
// authentication.
type Client struct {
	transport *transport.Client
	cache     cache.Store
	baseURL   string
	log       logrus.FieldLogger
}

// New returns a Client.
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
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		log:       cfg.Logger,
	}
}

var bracketed = regexp.MustCompile(`\(.*?\)|\[.*?\]`)

// SanitizeTrackName strips the qualifiers that hurt matching against the
// lookup index: everything after the first dash and any parenthesized or
// bracketed segment. "Shape of You (feat. X) - Remix" becomes
// "Shape of You".
func SanitizeTrackName(name string) string {
	if i := strings.Index(name, "-"); i >= 0 {
		name = name[:i]
	}
	name = bracketed.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// PreviewURL returns the preview audio URL for a track, or "" when the
// lookup finds nothing. Hits are cached for 7 days.
func (c *Client) PreviewURL(ctx context.Context, trackName, artistName string) (string, error) {
	track := SanitizeTrackName(trackName)
	key := cache.Key("preview", track, artistName)
	return cache.GetOrFetch(ctx, c.cache, key, previewTTL, func(ctx context.Context) (string, error) {
		q := `track:"` + track + `" artist:"` + artistName + `"`
		raw, err := c.transport.Get(ctx, c.baseURL+"/search", url.Values{"q": {q}, "limit": {"1"}}, nil)
		if err != nil {
			return "", err
		}
		var w struct {
			Data []struct {
				Preview string `json:"preview"`
			} `json:"data"`
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &w)
		}
		if len(w.Data) == 0 {
			return "", nil
		}
		return w.Data[0].Preview, nil
	})
}
