// Package feed holds the social features: the ranked feed, connections,
// reactions, comments and notifications. Every list is served through the
// local cache and kept current by invalidation watchers.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/betterme/betterme/internal/cache"
	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/ranking"
	"github.com/betterme/betterme/internal/supabase"
)

// Cache keys owned by the service.
const (
	KeyPosts         = "posts"
	KeyConnections   = "connections"
	KeyAnalyses      = "analyses"
	KeyProfiles      = "profiles"
	KeyNotifications = "notifications"
)

// Keys lists every cache key the service manages.
var Keys = []string{KeyPosts, KeyConnections, KeyAnalyses, KeyProfiles, KeyNotifications}

const backgroundRefreshTimeout = 30 * time.Second

// Backend is the remote data the service reads and writes.
type Backend interface {
	ListPosts(ctx context.Context, limit int) ([]models.Post, error)
	ListPostsByUser(ctx context.Context, userID string) ([]models.Post, error)
	CreatePost(ctx context.Context, p supabase.NewPost) (*models.Post, error)

	ListConnections(ctx context.Context, userID string) ([]models.Connection, error)
	CreateConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	DeleteConnection(ctx context.Context, id string) error

	ListReactions(ctx context.Context, postID, userID string) ([]models.Reaction, error)
	DeleteReactions(ctx context.Context, postID, userID string) error
	CreateReaction(ctx context.Context, postID, userID string, t models.ReactionType) (*models.Reaction, error)
	CreateComment(ctx context.Context, postID, userID, content string) (*models.Comment, error)

	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	CreateNotifications(ctx context.Context, notifications []supabase.NewNotification) error
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error

	ListAnalyses(ctx context.Context, userID string) ([]models.Analysis, error)
	ListProfiles(ctx context.Context, limit int) ([]models.Profile, error)
}

// Identity reports the signed-in user. session.Manager implements it.
type Identity interface {
	UserID() string
	RequireUser() (string, error)
	User() *models.Profile
}

// Moderator rejects harmful text with a moderation error.
type Moderator interface {
	Check(ctx context.Context, text string) error
}

// Recorder receives ranking metrics.
type Recorder interface {
	FeedRanked(d time.Duration, ranked, dropped int)
}

type nopRecorder struct{}

func (nopRecorder) FeedRanked(time.Duration, int, int) {}

// TTLs sets how long each list is served without refetching.
type TTLs struct {
	Posts         time.Duration
	Connections   time.Duration
	Analyses      time.Duration
	Profiles      time.Duration
	Notifications time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Posts:         30 * time.Second,
		Connections:   30 * time.Second,
		Analyses:      5 * time.Minute,
		Profiles:      5 * time.Minute,
		Notifications: 30 * time.Second,
	}
}

type Config struct {
	TTL      TTLs
	Weights  ranking.Weights
	PageSize int
}

type Service struct {
	backend   Backend
	identity  Identity
	cache     *cache.Cache
	ranker    *ranking.Ranker
	moderator Moderator
	recorder  Recorder
	pageSize  int

	posts         *cache.Resource[models.Post]
	connections   *cache.Resource[models.Connection]
	analyses      *cache.Resource[models.Analysis]
	profiles      *cache.Resource[models.Profile]
	notifications *cache.Resource[models.Notification]
	bindings      map[string]binding

	mu       sync.Mutex
	unwatch  []func()
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*Service)

func WithModerator(m Moderator) Option {
	return func(s *Service) { s.moderator = m }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func New(c *cache.Cache, backend Backend, identity Identity, cfg Config, opts ...Option) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Weights == (ranking.Weights{}) {
		cfg.Weights = ranking.DefaultWeights()
	}
	def := DefaultTTLs()
	ttl := cfg.TTL
	if ttl.Posts <= 0 {
		ttl.Posts = def.Posts
	}
	if ttl.Connections <= 0 {
		ttl.Connections = def.Connections
	}
	if ttl.Analyses <= 0 {
		ttl.Analyses = def.Analyses
	}
	if ttl.Profiles <= 0 {
		ttl.Profiles = def.Profiles
	}
	if ttl.Notifications <= 0 {
		ttl.Notifications = def.Notifications
	}

	s := &Service{
		backend:  backend,
		identity: identity,
		cache:    c,
		ranker:   ranking.New(cfg.Weights),
		recorder: nopRecorder{},
		pageSize: cfg.PageSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.posts = cache.NewResource(c, KeyPosts, ttl.Posts, func(ctx context.Context) ([]models.Post, error) {
		return s.backend.ListPosts(ctx, s.pageSize)
	})
	s.connections = cache.NewResource(c, KeyConnections, ttl.Connections, func(ctx context.Context) ([]models.Connection, error) {
		uid, err := s.identity.RequireUser()
		if err != nil {
			return nil, err
		}
		return s.backend.ListConnections(ctx, uid)
	})
	s.analyses = cache.NewResource(c, KeyAnalyses, ttl.Analyses, func(ctx context.Context) ([]models.Analysis, error) {
		uid, err := s.identity.RequireUser()
		if err != nil {
			return nil, err
		}
		return s.backend.ListAnalyses(ctx, uid)
	})
	s.profiles = cache.NewResource(c, KeyProfiles, ttl.Profiles, func(ctx context.Context) ([]models.Profile, error) {
		return s.backend.ListProfiles(ctx, 0)
	})
	s.notifications = cache.NewResource(c, KeyNotifications, ttl.Notifications, func(ctx context.Context) ([]models.Notification, error) {
		uid, err := s.identity.RequireUser()
		if err != nil {
			return nil, err
		}
		return s.backend.ListNotifications(ctx, uid)
	})

	s.bindings = map[string]binding{
		KeyPosts:         bind(s.posts, false),
		KeyConnections:   bind(s.connections, true),
		KeyAnalyses:      bind(s.analyses, true),
		KeyProfiles:      bind(s.profiles, false),
		KeyNotifications: bind(s.notifications, true),
	}
	return s
}

// binding erases the element type of a resource for bulk operations.
type binding struct {
	userScoped bool
	stale      func(ctx context.Context) bool
	refresh    func(ctx context.Context) error
	load       func(ctx context.Context) error
	clear      func(ctx context.Context)
}

func bind[T any](r *cache.Resource[T], userScoped bool) binding {
	return binding{
		userScoped: userScoped,
		stale:      r.Stale,
		refresh: func(ctx context.Context) error {
			_, err := r.Refresh(ctx)
			return err
		},
		load: func(ctx context.Context) error {
			_, err := r.Load(ctx, nil)
			return err
		},
		clear: r.Clear,
	}
}

// active returns the bindings usable for the current user, in key order.
func (s *Service) active() map[string]binding {
	signedIn := s.identity.UserID() != ""
	out := make(map[string]binding, len(s.bindings))
	for _, key := range Keys {
		b := s.bindings[key]
		if b.userScoped && !signedIn {
			continue
		}
		out[key] = b
	}
	return out
}

// Init registers a watcher per key that refetches the list in the
// background whenever it is invalidated. Calling Init twice is a no-op.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bgCancel != nil {
		return nil
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, key := range Keys {
		s.unwatch = append(s.unwatch, s.cache.Watch(key, s.refreshInBackground))
	}
	logger.Log.Debug("Feed service initialized", zap.Strings("keys", Keys))
	return nil
}

// Dispose removes the watchers and waits for background refreshes to stop.
func (s *Service) Dispose() {
	s.mu.Lock()
	for _, cancel := range s.unwatch {
		cancel()
	}
	s.unwatch = nil
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) refreshInBackground(key string) {
	b, ok := s.active()[key]
	if !ok {
		return
	}

	s.mu.Lock()
	parent := s.bgCtx
	if parent == nil || parent.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(parent, backgroundRefreshTimeout)
		defer cancel()
		if err := b.refresh(ctx); err != nil && ctx.Err() == nil {
			logger.WarnWithFields("Background refresh failed", err, zap.String("key", key))
		}
	}()
}

// RefreshIfStale refetches every stale list in parallel. It returns the
// first refresh error after all refreshes finish.
func (s *Service) RefreshIfStale(ctx context.Context) error {
	var g errgroup.Group
	for key, b := range s.active() {
		if !b.stale(ctx) {
			continue
		}
		g.Go(func() error {
			if err := b.refresh(ctx); err != nil {
				logger.WarnWithFields("Stale refresh failed", err, zap.String("key", key))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Prefetch warms every list in parallel. Failures are logged, not returned.
func (s *Service) Prefetch(ctx context.Context) {
	var wg sync.WaitGroup
	for key, b := range s.active() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.load(ctx); err != nil {
				logger.WarnWithFields("Prefetch failed", err, zap.String("key", key))
			}
		}()
	}
	wg.Wait()
}

// ClearUserData drops the lists that belong to the signed-in user. Call it
// on sign out.
func (s *Service) ClearUserData(ctx context.Context) {
	for _, key := range Keys {
		if b := s.bindings[key]; b.userScoped {
			b.clear(ctx)
		}
	}
}

// Invalidate marks key stale and triggers its watchers.
func (s *Service) Invalidate(ctx context.Context, key string) error {
	if _, ok := s.bindings[key]; !ok {
		return apperrors.NewNotFound("cache key " + key)
	}
	s.cache.Invalidate(ctx, key)
	return nil
}

// Analyses returns the signed-in user's analyses, newest first.
func (s *Service) Analyses(ctx context.Context, onStale func([]models.Analysis)) ([]models.Analysis, error) {
	if _, err := s.identity.RequireUser(); err != nil {
		return nil, err
	}
	return s.analyses.Load(ctx, onStale)
}

// Profiles returns profiles ordered by rating.
func (s *Service) Profiles(ctx context.Context, onStale func([]models.Profile)) ([]models.Profile, error) {
	return s.profiles.Load(ctx, onStale)
}
