// Command web runs the Soundlytics server: a JSON API over the music
// aggregation library plus a background poller that ingests listening
// history for every authenticated user. Configuration comes from a config
// file or SOUNDLYTICS_* environment variables.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"Soundlytics/pkg/auth"
	"Soundlytics/pkg/cache"
	"Soundlytics/pkg/db"
	"Soundlytics/pkg/deezer"
	"Soundlytics/pkg/handlers"
	"Soundlytics/pkg/lastfm"
	"Soundlytics/pkg/music"
	"Soundlytics/pkg/poller"
	"Soundlytics/pkg/ratelimit"
	"Soundlytics/pkg/spotify"
	"Soundlytics/pkg/transport"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "soundlytics",
	Short: "Rate-limited music listening history aggregator",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the history poller",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync [user-id]",
	Short: "Ingest listening history once, for one user or all users",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSync,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default soundlytics.yaml)")
	rootCmd.AddCommand(serveCmd, syncCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("soundlytics")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/soundlytics")
	}
	viper.SetEnvPrefix("soundlytics")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cobra.CheckErr(err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("addr", ":4000")
	viper.SetDefault("database_path", "soundlytics.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("poll_interval", "5m")
	viper.SetDefault("request_timeout", "60s")
	viper.SetDefault("redirect_url", "http://localhost:4000/callback")
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(viper.GetString("log_level")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// services bundles everything both commands need wired up.
type services struct {
	log      *logrus.Logger
	database *db.DB
	registry *prometheus.Registry
	oauth    *oauth2.Config
	tokens   *auth.Provider
	catalogs *catalogFactory
	similar  *lastfm.Client
	preview  *deezer.Client
}

// catalogFactory hands out catalog clients bound to one user. Each user
// gets a dedicated rate limiter so their burst budget persists across
// requests; the HTTP client, cache and metrics are shared.
type catalogFactory struct {
	mu         sync.Mutex
	transports map[string]*transport.Client

	httpClient *http.Client
	cache      cache.Store
	metrics    *transport.Metrics
	tokens     spotify.TokenProvider
	log        logrus.FieldLogger
}

func (f *catalogFactory) transportFor(userID string) *transport.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.transports[userID]; ok {
		return tr
	}
	tr := transport.New(transport.Config{
		HTTPClient: f.httpClient,
		Limiter:    ratelimit.New(),
		Logger:     f.log,
		Metrics:    f.metrics,
	})
	f.transports[userID] = tr
	return tr
}

func (f *catalogFactory) clientFor(userID string) *spotify.Client {
	return spotify.New(spotify.Config{
		Transport: f.transportFor(userID),
		Cache:     f.cache,
		Tokens:    f.tokens,
		UserID:    userID,
		Logger:    f.log,
	})
}

func buildServices() (*services, error) {
	logger := newLogger()

	database, err := db.New(viper.GetString("database_path"))
	if err != nil {
		return nil, err
	}

	oauthConf := &oauth2.Config{
		ClientID:     viper.GetString("spotify.client_id"),
		ClientSecret: viper.GetString("spotify.client_secret"),
		RedirectURL:  viper.GetString("redirect_url"),
		Scopes:       []string{"user-read-recently-played", "user-top-read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
	tokens := auth.NewProvider(database, oauthConf, logger)

	registry := prometheus.NewRegistry()
	metrics := transport.NewMetrics(registry)
	sharedCache := cache.NewMemory()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	catalogs := &catalogFactory{
		transports: map[string]*transport.Client{},
		httpClient: httpClient,
		cache:      sharedCache,
		metrics:    metrics,
		tokens:     tokens,
		log:        logger,
	}

	sharedTransport := transport.New(transport.Config{
		HTTPClient: httpClient,
		Limiter:    ratelimit.New(),
		Logger:     logger,
		Metrics:    metrics,
	})
	similar := lastfm.New(lastfm.Config{
		Transport: sharedTransport,
		Cache:     sharedCache,
		APIKey:    viper.GetString("lastfm.api_key"),
		Logger:    logger,
	})
	preview := deezer.New(deezer.Config{
		Transport: sharedTransport,
		Cache:     sharedCache,
		Logger:    logger,
	})

	return &services{
		log:      logger,
		database: database,
		registry: registry,
		oauth:    oauthConf,
		tokens:   tokens,
		catalogs: catalogs,
		similar:  similar,
		preview:  preview,
	}, nil
}

func (s *services) libraries(userID string) handlers.LibraryService {
	return music.NewLibrary(s.catalogs.clientFor(userID), s.similar, s.preview, s.log)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.database.Close()

	app := &handlers.Application{
		Libraries:      svc.libraries,
		History:        svc.database,
		OAuth:          svc.oauth,
		SignKey:        []byte(viper.GetString("sign_key")),
		Log:            svc.log,
		Registry:       svc.registry,
		RequestTimeout: viper.GetDuration("request_timeout"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(svc.database, func(userID string) poller.History {
		return svc.catalogs.clientFor(userID)
	}, viper.GetDuration("poll_interval"), svc.log)
	go p.Run(ctx)

	srv := &http.Server{
		Addr:         viper.GetString("addr"),
		Handler:      app.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			svc.log.WithError(err).Error("server shutdown")
		}
	}()

	svc.log.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	svc, err := buildServices()
	if err != nil {
		return err
	}
	defer svc.database.Close()

	p := poller.New(svc.database, func(userID string) poller.History {
		return svc.catalogs.clientFor(userID)
	}, time.Minute, svc.log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users := args
	if len(users) == 0 {
		users, err = svc.database.UserIDs(ctx)
		if err != nil {
			return err
		}
	}
	for _, userID := range users {
		n, err := p.SyncUser(ctx, userID)
		if err != nil {
			svc.log.WithField("user", userID).WithError(err).Warn("sync failed")
			continue
		}
		svc.log.WithFields(logrus.Fields{"user": userID, "plays": n}).Info("synced")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
