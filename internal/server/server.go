// Package server exposes the client core to a host shell over a local
// HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/metrics"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/ranking"
)

const shutdownTimeout = 10 * time.Second

// FeedService is the feed surface the API serves. feed.Service implements it.
type FeedService interface {
	Feed(ctx context.Context, onStale func([]ranking.RankedPost)) ([]ranking.RankedPost, error)
	CreatePost(ctx context.Context, in feed.PostInput) (*models.Post, error)
	ToggleReaction(ctx context.Context, postID string, t models.ReactionType) (models.ReactionType, error)
	AddComment(ctx context.Context, postID, content string) (*models.Comment, error)
	UserPosts(ctx context.Context, userID string) ([]models.Post, error)

	Connections(ctx context.Context, onStale func([]models.Connection)) ([]models.Connection, error)
	PendingRequests(ctx context.Context) ([]models.Connection, error)
	SuggestedConnections(ctx context.Context) ([]models.Profile, error)
	SendConnectionRequest(ctx context.Context, toUserID string) (*models.Connection, error)
	AcceptConnection(ctx context.Context, id string) error
	RejectConnection(ctx context.Context, id string) error
	RemoveConnection(ctx context.Context, id string) error

	Notifications(ctx context.Context, onStale func([]models.Notification)) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error

	RefreshIfStale(ctx context.Context) error
	Invalidate(ctx context.Context, key string) error
}

// Session is the signed-in state the API reports and refreshes.
type Session interface {
	User() *models.Profile
	HandleLifecycle(ctx context.Context, state string) error
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	ServiceName    string
}

type Server struct {
	cfg     Config
	feed    FeedService
	session Session
	metrics *metrics.Metrics
	router  *gin.Engine
}

// New builds the router. m may be nil, in which case /metrics is not served.
func New(cfg Config, f FeedService, s Session, m *metrics.Metrics) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "betterme"
	}
	srv := &Server{cfg: cfg, feed: f, session: s, metrics: m}
	srv.router = srv.routes()
	return srv
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(otelgin.Middleware(s.cfg.ServiceName), spanDetails())
	r.Use(requestLogger())
	if s.metrics != nil {
		r.Use(requestMetrics(s.metrics))
	}

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) == 0 || (len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Request-ID")
	r.Use(cors.New(corsCfg))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	{
		api.GET("/feed", s.getFeed)
		api.POST("/posts", s.createPost)
		api.POST("/posts/:id/reactions", s.toggleReaction)
		api.POST("/posts/:id/comments", s.addComment)
		api.GET("/users/:id/posts", s.userPosts)

		api.GET("/connections", s.listConnections)
		api.GET("/connections/pending", s.pendingConnections)
		api.GET("/connections/suggestions", s.suggestedConnections)
		api.POST("/connections", s.requestConnection)
		api.POST("/connections/:id/accept", s.acceptConnection)
		api.POST("/connections/:id/reject", s.rejectConnection)
		api.DELETE("/connections/:id", s.removeConnection)

		api.GET("/notifications", s.listNotifications)
		api.GET("/notifications/unread-count", s.unreadCount)
		api.POST("/notifications/:id/read", s.markRead)
		api.POST("/notifications/read-all", s.markAllRead)

		api.POST("/lifecycle", s.lifecycle)
		api.DELETE("/cache/:key", s.invalidate)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Companion API listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Log.Info("Companion API stopped")
	return nil
}
