// Package handlers exposes the aggregation library and the stored listening
// history over a JSON API. Handlers resolve the caller from a signed cookie,
// build a per-user library via the Libraries factory, and translate library
// errors into status codes: authentication failures map to 401, invalid
// input to 400, everything else degrades inside the library and arrives
// here as plain data.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"Soundlytics/pkg/db"
	"Soundlytics/pkg/music"
)

// defaultRequestTimeout bounds every aggregation fan-out. Leaf calls inherit
// the deadline through the request context.
const defaultRequestTimeout = 60 * time.Second

// LibraryService is the aggregation surface the handlers call.
type LibraryService interface {
	TrackDetail(ctx context.Context, trackID string, withPreview bool) (music.Track, error)
	TrackDetails(ctx context.Context, trackIDs []string, withPreviews bool) (map[string]music.Track, error)
	SimilarTracks(ctx context.Context, trackID string, limit int, withPreviews bool) ([]music.Track, error)
	Discography(ctx context.Context, artistID string) (music.Discography, error)
	ResolveArtists(ctx context.Context, names []string) ([]music.Artist, error)
	Search(ctx context.Context, query string) (music.SearchResult, error)
}

// HistoryStore is the persistence surface for the history and insights
// endpoints.
type HistoryStore interface {
	SaveToken(ctx context.Context, userID string, token *oauth2.Token) error
	RecentPlays(ctx context.Context, userID string, limit int) ([]db.Play, error)
	TopArtistsSince(ctx context.Context, userID string, since time.Time, limit int) ([]db.ArtistCount, error)
	TopTracksSince(ctx context.Context, userID string, since time.Time, limit int) ([]db.TrackCount, error)
	MonthlyPlayCountsSince(ctx context.Context, userID string, since time.Time) ([]db.MonthCount, error)
}

// Application holds the dependencies shared by all routes.
type Application struct {
	// Libraries builds the per-user library. Credentials are per user, so
	// a fresh value is produced for each authenticated request.
	Libraries func(userID string) LibraryService

	History HistoryStore
	OAuth   *oauth2.Config
	// ProfileURL is the endpoint used to resolve the authenticated user's
	// ID after the OAuth exchange.
	ProfileURL string
	SignKey    []byte
	Log        logrus.FieldLogger
	Registry   *prometheus.Registry
	// RequestTimeout caps how long one API request may fan out upstream.
	RequestTimeout time.Duration
}

// Routes assembles the router with all endpoints and middleware attached.
func (app *Application) Routes() http.Handler {
	if app.Log == nil {
		app.Log = logrus.StandardLogger()
	}
	if app.RequestTimeout <= 0 {
		app.RequestTimeout = defaultRequestTimeout
	}

	r := mux.NewRouter()
	r.HandleFunc("/login", app.Login).Methods(http.MethodGet)
	r.HandleFunc("/callback", app.OAuthCallback).Methods(http.MethodGet)
	r.HandleFunc("/logout", app.Logout).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tracks", app.TracksJSON).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", app.TrackJSON).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}/similar", app.SimilarTracksJSON).Methods(http.MethodGet)
	api.HandleFunc("/artists/resolve", app.ResolveArtistsJSON).Methods(http.MethodGet)
	api.HandleFunc("/artists/{id}/discography", app.DiscographyJSON).Methods(http.MethodGet)
	api.HandleFunc("/search", app.SearchJSON).Methods(http.MethodGet)
	api.HandleFunc("/history", app.HistoryJSON).Methods(http.MethodGet)
	api.HandleFunc("/insights/artists", app.InsightsArtistsJSON).Methods(http.MethodGet)
	api.HandleFunc("/insights/tracks", app.InsightsTracksJSON).Methods(http.MethodGet)
	api.HandleFunc("/insights/monthly", app.InsightsMonthlyJSON).Methods(http.MethodGet)

	if app.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	}

	return SecurityHeaders(app.requestLogger(r))
}

// library resolves the caller and builds their library, writing the 401
// itself on failure.
func (app *Application) library(w http.ResponseWriter, r *http.Request) (LibraryService, bool) {
	userID, ok := app.requireUser(w, r)
	if !ok {
		return nil, false
	}
	return app.Libraries(userID), true
}

func (app *Application) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), app.RequestTimeout)
}

// TrackJSON returns one track's details. previews=1 joins in a preview URL.
func (app *Application) TrackJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	ctx, cancel := app.requestContext(r)
	defer cancel()
	t, err := lib.TrackDetail(ctx, mux.Vars(r)["id"], boolParam(r, "previews"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, t)
}

// TracksJSON returns details for a comma-separated ids parameter, keyed by
// track ID.
func (app *Application) TracksJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	ids := splitParam(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		http.Error(w, "ids parameter required", http.StatusBadRequest)
		return
	}
	ctx, cancel := app.requestContext(r)
	defer cancel()
	details, err := lib.TrackDetails(ctx, ids, boolParam(r, "previews"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, details)
}

// SimilarTracksJSON returns tracks similar to the seed track, most popular
// first.
func (app *Application) SimilarTracksJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	limit := intParam(r, "limit", 20)
	ctx, cancel := app.requestContext(r)
	defer cancel()
	tracks, err := lib.SimilarTracks(ctx, mux.Vars(r)["id"], limit, boolParam(r, "previews"))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, tracks)
}

// DiscographyJSON returns the artist's reconciled discography.
func (app *Application) DiscographyJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	ctx, cancel := app.requestContext(r)
	defer cancel()
	disc, err := lib.Discography(ctx, mux.Vars(r)["id"])
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, disc)
}

// ResolveArtistsJSON resolves a comma-separated names parameter to catalog
// artists.
func (app *Application) ResolveArtistsJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	names := splitParam(r.URL.Query().Get("names"))
	if len(names) == 0 {
		http.Error(w, "names parameter required", http.StatusBadRequest)
		return
	}
	ctx, cancel := app.requestContext(r)
	defer cancel()
	artists, err := lib.ResolveArtists(ctx, names)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, artists)
}

// SearchJSON runs a free-form catalog search.
func (app *Application) SearchJSON(w http.ResponseWriter, r *http.Request) {
	lib, ok := app.library(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "q parameter required", http.StatusBadRequest)
		return
	}
	ctx, cancel := app.requestContext(r)
	defer cancel()
	res, err := lib.Search(ctx, q)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, res)
}

// HistoryJSON returns the caller's newest stored plays.
func (app *Application) HistoryJSON(w http.ResponseWriter, r *http.Request) {
	userID, ok := app.requireUser(w, r)
	if !ok {
		return
	}
	plays, err := app.History.RecentPlays(r.Context(), userID, intParam(r, "limit", 50))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, plays)
}

// InsightsArtistsJSON returns the caller's most played artists over the
// last 'days' days, default one week.
func (app *Application) InsightsArtistsJSON(w http.ResponseWriter, r *http.Request) {
	userID, ok := app.requireUser(w, r)
	if !ok {
		return
	}
	since := time.Now().AddDate(0, 0, -intParam(r, "days", 7))
	res, err := app.History.TopArtistsSince(r.Context(), userID, since, intParam(r, "limit", 10))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, res)
}

// InsightsTracksJSON returns the caller's most played tracks.
func (app *Application) InsightsTracksJSON(w http.ResponseWriter, r *http.Request) {
	userID, ok := app.requireUser(w, r)
	if !ok {
		return
	}
	since := time.Now().AddDate(0, 0, -intParam(r, "days", 7))
	res, err := app.History.TopTracksSince(r.Context(), userID, since, intParam(r, "limit", 10))
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, res)
}

// InsightsMonthlyJSON groups play counts per month from an optional
// 'since' parameter (YYYY-MM-DD), default one year back.
func (app *Application) InsightsMonthlyJSON(w http.ResponseWriter, r *http.Request) {
	userID, ok := app.requireUser(w, r)
	if !ok {
		return
	}
	since := time.Now().AddDate(-1, 0, 0)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			http.Error(w, "since must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		since = t
	}
	res, err := app.History.MonthlyPlayCountsSince(r.Context(), userID, since)
	if err != nil {
		app.writeError(w, r, err)
		return
	}
	app.writeJSON(w, r, res)
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}

func intParam(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func splitParam(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
