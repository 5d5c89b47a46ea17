// Package app assembles the client core from configuration. Both the CLI
// commands and the companion API server build one App per process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/analysis"
	"github.com/betterme/betterme/internal/cache"
	"github.com/betterme/betterme/internal/config"
	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/metrics"
	"github.com/betterme/betterme/internal/ranking"
	"github.com/betterme/betterme/internal/realtime"
	"github.com/betterme/betterme/internal/server"
	"github.com/betterme/betterme/internal/session"
	"github.com/betterme/betterme/internal/storage"
	"github.com/betterme/betterme/internal/supabase"
	"github.com/betterme/betterme/internal/telemetry"
	"github.com/betterme/betterme/internal/vision"
)

const serviceName = "betterme"

// Options tune how the App is built.
type Options struct {
	Version string
	// Console mirrors log output to stderr.
	Console bool
}

// App holds every long-lived component. Fields are set by New and must not
// be replaced afterwards.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Cache    *cache.Cache
	Backend  *supabase.Client
	Session  *session.Manager
	Vision   *vision.Client
	Feed     *feed.Service
	Analysis *analysis.Service

	shutdownTracer func(context.Context) error
}

// New builds the App. Nothing touches the network until Start, except the
// AWS config loader, which only reads local settings.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := logger.Initialize(logger.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: opts.Console,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Version:      opts.Version,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Enabled:      cfg.Telemetry.Enabled,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a := &App{
		Config:         cfg,
		Metrics:        metrics.New(),
		shutdownTracer: shutdownTracer,
	}

	store, err := newCacheStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(store,
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithRecorder(a.Metrics),
	)

	a.Backend = supabase.New(supabase.Config{
		URL:        cfg.Supabase.URL,
		AnonKey:    cfg.Supabase.AnonKey,
		Timeout:    cfg.Supabase.Timeout,
		RetryCount: cfg.Supabase.RetryCount,
		RetryWait:  cfg.Supabase.RetryWait,
		Transport:  telemetry.NewTransport(nil),
	})

	a.Session = session.NewManager(a.Backend,
		session.NewFileStore(cfg.Session.CredentialsFile),
		session.WithRefreshThreshold(cfg.Session.RefreshThreshold),
	)

	a.Vision = vision.New(vision.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		ModerationModel: cfg.Gemini.ModerationModel,
		Timeout:         cfg.Gemini.Timeout,
		Transport:       telemetry.NewTransport(nil),
	})

	a.Feed = feed.New(a.Cache, a.Backend, a.Session, feed.Config{
		TTL:      ttls(cfg.Cache.TTL),
		Weights:  weights(cfg.Ranking.Weights),
		PageSize: cfg.Ranking.PageSize,
	}, feed.WithModerator(a.Vision), feed.WithRecorder(a.Metrics))

	uploader, err := storage.NewS3Uploader(ctx, storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		// Everything but photo analysis still works without a bucket.
		logger.WarnWithFields("Photo storage unavailable", err)
	} else {
		a.Analysis = analysis.NewService(a.Vision, uploader, a.Backend, a.Session, a.Feed)
	}

	return a, nil
}

func newCacheStorage(cfg *config.Config) (cache.Storage, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStorage(), nil
	case "redis":
		return cache.NewRedisStorage(cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			ItemTTL:  cfg.Redis.ItemTTL,
		}), nil
	case "sqlite", "":
		s, err := cache.OpenSQLite(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func ttls(c config.TTLConfig) feed.TTLs {
	return feed.TTLs{
		Posts:         c.Posts,
		Connections:   c.Connections,
		Analyses:      c.Analyses,
		Profiles:      c.Profiles,
		Notifications: c.Notifications,
	}
}

func weights(c config.WeightsConfig) ranking.Weights {
	return ranking.Weights{
		Reaction:     c.Reaction,
		Comment:      c.Comment,
		RecencyHours: c.RecencyHours,
		Connection:   c.Connection,
		Analysis:     c.Analysis,
		BeforeAfter:  c.BeforeAfter,
		Content:      c.Content,
	}
}

// Start prepares the cache, restores the session and registers the
// background refresh watchers.
func (a *App) Start(ctx context.Context) error {
	if err := a.Cache.Init(ctx); err != nil {
		return err
	}
	if err := a.Session.Init(ctx); err != nil {
		return err
	}
	if err := a.Feed.Init(ctx); err != nil {
		return err
	}
	if u := a.Session.User(); u != nil {
		logger.Log.Debug("Session restored", zap.String("user_id", u.ID))
	}
	return nil
}

// RequireAnalysis returns the analysis service, or an error when photo
// storage is not configured.
func (a *App) RequireAnalysis() (*analysis.Service, error) {
	if a.Analysis == nil {
		return nil, errors.New("photo storage is not configured, set storage.bucket and credentials")
	}
	return a.Analysis, nil
}

// Realtime builds a change feed client bound to the cache, or nil when
// realtime is disabled. The current access token is sent on join.
func (a *App) Realtime() *realtime.Client {
	if !a.Config.Realtime.Enabled || a.Config.Realtime.URL == "" {
		return nil
	}
	rt := realtime.NewClient(realtime.Config{
		URL:               a.Config.Realtime.URL,
		APIKey:            a.Config.Supabase.AnonKey,
		HeartbeatInterval: a.Config.Realtime.HeartbeatInterval,
		ReconnectMin:      a.Config.Realtime.ReconnectMin,
		ReconnectMax:      a.Config.Realtime.ReconnectMax,
	}, a.Cache, realtime.WithRecorder(a.Metrics))
	rt.SetAccessToken(a.Backend.AccessToken())
	return rt
}

// Server builds the companion API.
func (a *App) Server() *server.Server {
	return server.New(server.Config{
		Addr:           a.Config.Server.Addr,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		ServiceName:    serviceName,
	}, a.Feed, a.Session, a.Metrics)
}

// SignOut ends the session and drops cached user data. Local state is
// cleared even when the remote sign out fails.
func (a *App) SignOut(ctx context.Context) error {
	err := a.Session.SignOut(ctx)
	a.Feed.ClearUserData(ctx)
	return err
}

// Close stops background work and releases storage. It is safe to call
// after a failed Start.
func (a *App) Close() error {
	a.Feed.Dispose()
	a.Session.Dispose()

	var errs []error
	if err := a.Cache.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	_ = logger.Close()
	return errors.Join(errs...)
}
