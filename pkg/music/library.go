// This file implements the aggregation routines. Each routine fans out one
// concurrent sub-operation per seed entity, collects results as they
// complete, and folds them into a single deduplicated answer with a
// deterministic order. Concurrency is bounded by the transport's rate
// limiter rather than an explicit cap. A failing leaf contributes no data
// and never aborts its siblings; an error is surfaced only when every leaf
// failed or the input was invalid.

package music

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoTrackIDs is returned when a batched lookup is invoked with no IDs.
var ErrNoTrackIDs = errors.New("music: no track ids supplied")

// batchSize is the catalog's maximum for multi-ID track requests.
const batchSize = 50

// similarArtistPool is how many similar artists seed the similar-track
// discovery fan-out.
const similarArtistPool = 10

// Catalog is the subset of the catalog client the aggregation layer uses.
type Catalog interface {
	Track(ctx context.Context, trackID string) (Track, error)
	Tracks(ctx context.Context, trackIDs []string) ([]Track, error)
	Artist(ctx context.Context, artistID string) (Artist, error)
	SearchArtist(ctx context.Context, name string) (Artist, error)
	ArtistAlbums(ctx context.Context, artistID string, groups []string) ([]Album, error)
	ArtistTopTracks(ctx context.Context, artistID string, n int) ([]Track, error)
	Album(ctx context.Context, albumID string) (Album, error)
	Search(ctx context.Context, query string) (SearchResult, error)
}

// Similarity resolves similar artists by name.
type Similarity interface {
	SimilarArtists(ctx context.Context, artist string, limit int) ([]SimilarArtist, error)
}

// Previews looks up preview audio URLs.
type Previews interface {
	PreviewURL(ctx context.Context, trackName, artistName string) (string, error)
}

// Library combines the three upstream clients into higher-level answers.
type Library struct {
	Catalog Catalog
	Similar Similarity
	Preview Previews
	Log     logrus.FieldLogger
}

// NewLibrary returns a Library over the given clients.
func NewLibrary(catalog Catalog, similar Similarity, preview Previews, log logrus.FieldLogger) *Library {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Library{Catalog: catalog, Similar: similar, Preview: preview, Log: log}
}

// TrackDetail returns one track, joining in a preview URL from the lookup
// service when the catalog lacks one. A failed preview lookup degrades to a
// missing preview, never an error.
func (l *Library) TrackDetail(ctx context.Context, trackID string, withPreview bool) (Track, error) {
	t, err := l.Catalog.Track(ctx, trackID)
	if err != nil {
		return Track{}, err
	}
	if withPreview {
		l.enrichPreview(ctx, &t)
	}
	return t, nil
}

func (l *Library) enrichPreview(ctx context.Context, t *Track) {
	if t.ID == "" || t.PreviewURL != "" || t.ArtistName() == "" {
		return
	}
	preview, err := l.Preview.PreviewURL(ctx, t.Name, t.ArtistName())
	if err != nil {
		l.Log.WithField("track", t.ID).WithError(err).Warn("preview lookup failed")
		return
	}
	t.PreviewURL = preview
}

// ResolveArtists looks up each name in the catalog concurrently and returns
// the matches deduplicated by artist ID, in input order.
func (l *Library) ResolveArtists(ctx context.Context, names []string) ([]Artist, error) {
	if len(names) == 0 {
		return nil, nil
	}
	results := make([]Artist, len(names))
	errs := make([]error, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			a, err := l.Catalog.SearchArtist(ctx, name)
			if err != nil {
				l.Log.WithField("artist", name).WithError(err).Warn("artist resolution failed")
				errs[i] = err
				return nil
			}
			results[i] = a
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var out []Artist
	for _, a := range results {
		if a.ID == "" {
			continue
		}
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		if err := firstError(errs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SimilarTracks discovers tracks similar to a seed track: it derives the
// seed's artist, finds similar artists, fetches each one's top track
// concurrently, optionally joins in preview URLs, and returns the result
// sorted by descending popularity, truncated to limit.
func (l *Library) SimilarTracks(ctx context.Context, trackID string, limit int, withPreviews bool) ([]Track, error) {
	seed, err := l.Catalog.Track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if seed.ID == "" || seed.ArtistName() == "" {
		return nil, nil
	}

	similar, err := l.Similar.SimilarArtists(ctx, seed.ArtistName(), similarArtistPool)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(similar))
	for _, s := range similar {
		names = append(names, s.Name)
	}
	artists, err := l.ResolveArtists(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(artists) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]struct{})
		tracks []Track
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, artist := range artists {
		artist := artist
		g.Go(func() error {
			top, err := l.Catalog.ArtistTopTracks(gctx, artist.ID, 1)
			if err != nil {
				l.Log.WithField("artist", artist.ID).WithError(err).Warn("top tracks fetch failed")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range top {
				if t.ID == "" || t.ID == seed.ID {
					continue
				}
				if _, ok := seen[t.ID]; ok {
					continue
				}
				seen[t.ID] = struct{}{}
				tracks = append(tracks, t)
			}
			return nil
		})
	}
	_ = g.Wait()

	if withPreviews {
		l.enrichPreviews(ctx, tracks)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].Popularity > tracks[j].Popularity
	})
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

// enrichPreviews runs one concurrent preview lookup per track lacking a
// preview URL. Best effort: failed lookups leave the preview missing.
func (l *Library) enrichPreviews(ctx context.Context, tracks []Track) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range tracks {
		if tracks[i].PreviewURL != "" {
			continue
		}
		i := i
		g.Go(func() error {
			l.enrichPreview(gctx, &tracks[i])
			return nil
		})
	}
	_ = g.Wait()
}

// TrackDetails fetches details for an arbitrary list of track IDs,
// partitioning into batches of 50 issued concurrently and merging into a
// map with exactly one entry per unique ID. With withPreviews set, one
// additional concurrent lookup runs per track lacking a preview URL.
func (l *Library) TrackDetails(ctx context.Context, trackIDs []string, withPreviews bool) (map[string]Track, error) {
	if len(trackIDs) == 0 {
		return nil, ErrNoTrackIDs
	}

	seen := make(map[string]struct{}, len(trackIDs))
	unique := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, ErrNoTrackIDs
	}

	var (
		mu      sync.Mutex
		details = make(map[string]Track, len(unique))
		errs    = make([]error, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(unique); start += batchSize {
		batch := unique[start:min(start+batchSize, len(unique))]
		g.Go(func() error {
			tracks, err := l.Catalog.Tracks(gctx, batch)
			if err != nil {
				l.Log.WithField("batch", len(batch)).WithError(err).Warn("track batch fetch failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range tracks {
				if t.ID != "" {
					details[t.ID] = t
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(details) == 0 {
		if err := firstError(errs); err != nil {
			return nil, err
		}
	}

	if withPreviews {
		// Snapshot before fanning out: the goroutines write back into
		// details, which must not happen while it is being ranged over.
		var missing []Track
		for _, t := range details {
			if t.PreviewURL == "" && t.ArtistName() != "" {
				missing = append(missing, t)
			}
		}
		pg, pctx := errgroup.WithContext(ctx)
		for _, t := range missing {
			t := t
			pg.Go(func() error {
				preview, err := l.Preview.PreviewURL(pctx, t.Name, t.ArtistName())
				if err != nil || preview == "" {
					return nil
				}
				mu.Lock()
				t.PreviewURL = preview
				details[t.ID] = t
				mu.Unlock()
				return nil
			})
		}
		_ = pg.Wait()
	}
	return details, nil
}

// Discography reconciles an artist's full catalog: all albums, each album's
// track listing fetched concurrently, the union of track IDs resolved
// through the batched detail lookup, and the albums re-walked in listing
// order to produce per-album tracks annotated with full details.
func (l *Library) Discography(ctx context.Context, artistID string) (Discography, error) {
	artist, err := l.Catalog.Artist(ctx, artistID)
	if err != nil {
		return Discography{}, err
	}
	albums, err := l.Catalog.ArtistAlbums(ctx, artistID, []string{"album", "single", "compilation"})
	if err != nil {
		return Discography{}, err
	}
	disc := Discography{Artist: artist}
	if len(albums) == 0 {
		return disc, nil
	}

	var mu sync.Mutex
	full := make(map[string]Album, len(albums))
	g, gctx := errgroup.WithContext(ctx)
	for _, album := range albums {
		if album.ID == "" {
			continue
		}
		album := album
		g.Go(func() error {
			a, err := l.Catalog.Album(gctx, album.ID)
			if err != nil {
				l.Log.WithField("album", album.ID).WithError(err).Warn("album fetch failed")
				return nil
			}
			if a.ID != "" {
				mu.Lock()
				full[album.ID] = a
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	idSet := make(map[string]struct{})
	var ids []string
	for _, a := range full {
		for _, t := range a.Tracks {
			if t.ID == "" {
				continue
			}
			if _, ok := idSet[t.ID]; ok {
				continue
			}
			idSet[t.ID] = struct{}{}
			ids = append(ids, t.ID)
		}
	}

	details := map[string]Track{}
	if len(ids) > 0 {
		details, err = l.TrackDetails(ctx, ids, false)
		if err != nil {
			return Discography{}, err
		}
	}

	for _, album := range albums {
		a, ok := full[album.ID]
		if !ok {
			continue
		}
		listing := AlbumListing{Album: album}
		for _, t := range a.Tracks {
			d, ok := details[t.ID]
			if !ok {
				continue
			}
			summary := album
			summary.Tracks = nil
			d.Album = &summary
			listing.Tracks = append(listing.Tracks, d)
		}
		disc.Albums = append(disc.Albums, listing)
	}
	return disc, nil
}

// Search passes a free-form query through to the catalog.
func (l *Library) Search(ctx context.Context, query string) (SearchResult, error) {
	return l.Catalog.Search(ctx, query)
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
