// Package session owns the signed-in user. A Manager is created once per
// process, restored with Init and kept current with RefreshIfStale, which
// the host calls when the app returns to the foreground.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/supabase"
)

const DefaultRefreshThreshold = 5 * time.Minute

// AuthClient is the subset of the backend client the manager needs.
type AuthClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.Session, error)
	SignUp(ctx context.Context, email, password string) (*supabase.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context) (*supabase.User, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, p supabase.NewProfile) (*models.Profile, error)
	SetAccessToken(token string)
}

// Lifecycle states reported by the host application.
const (
	StateForeground = "foreground"
	StateBackground = "background"
)

type Manager struct {
	client    AuthClient
	store     Store
	now       func() time.Time
	threshold time.Duration

	mu          sync.Mutex
	creds       *Credentials
	user        *models.Profile
	initialized bool
	lastRefresh time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshThreshold sets the minimum time between refreshes.
func WithRefreshThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.threshold = d
		}
	}
}

func NewManager(client AuthClient, store Store, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		store:     store,
		now:       time.Now,
		threshold: DefaultRefreshThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init restores the persisted session, refreshing the token if it has
// expired, and loads the profile. A missing or unusable session leaves the
// manager initialized and signed out.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	defer func() {
		m.initialized = true
		m.lastRefresh = m.now()
	}()

	creds, err := m.store.Load()
	if err != nil {
		logger.WarnWithFields("Failed to load stored session", err)
		return nil
	}
	if creds == nil {
		return nil
	}

	if creds.ExpiresWithin(m.now(), time.Minute) {
		creds, err = m.refreshLocked(ctx, creds)
		if err != nil {
			logger.WarnWithFields("Stored session could not be refreshed", err)
			m.clearLocked()
			return nil
		}
	}
	m.applyLocked(creds)

	profile, err := m.client.GetProfile(ctx, creds.UserID)
	if err != nil {
		logger.WarnWithFields("Profile initialization warning", err, zap.String("user_id", creds.UserID))
		return nil
	}
	m.user = profile
	return nil
}

// Dispose forgets the in-memory session. Persisted credentials are kept.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	m.user = nil
	m.initialized = false
	m.client.SetAccessToken("")
}

// SignIn authenticates and loads the profile.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, apperrors.NewAuth("sign in failed", err)
	}

	creds := credentialsFrom(s)
	m.applyLocked(creds)

	profile, err := m.client.GetProfile(ctx, creds.UserID)
	if err != nil {
		m.abortLocked(ctx)
		return nil, apperrors.NewInternal("failed to fetch user profile", err)
	}

	creds.Username = profile.Username
	m.user = profile
	m.lastRefresh = m.now()
	m.initialized = true
	if err := m.store.Save(creds); err != nil {
		logger.WarnWithFields("Failed to persist session", err)
	}

	logger.Log.Info("Signed in", zap.String("user_id", creds.UserID))
	return profile, nil
}

// SignUp creates the account and its profile row.
func (m *Manager) SignUp(ctx context.Context, email, password, username string, gender models.Gender) (*models.Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.NewValidation("username is required")
	}
	if !gender.Valid() {
		return nil, apperrors.NewValidation("gender must be one of male, female, other")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.client.SignUp(ctx, email, password)
	if err != nil {
		if strings.Contains(err.Error(), "already registered") {
			return nil, apperrors.NewConflict("an account with this email already exists, please sign in instead")
		}
		return nil, apperrors.NewAuth("sign up failed", err)
	}
	if s.AccessToken == "" {
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "confirm your email address, then sign in", nil)
	}

	creds := credentialsFrom(s)
	m.applyLocked(creds)

	if _, err := m.client.CreateProfile(ctx, supabase.NewProfile{ID: creds.UserID, Username: username, Gender: gender}); err != nil {
		m.abortLocked(ctx)
		return nil, apperrors.NewInternal("failed to create user profile", err)
	}

	profile, err := m.client.GetProfile(ctx, creds.UserID)
	if err != nil {
		m.abortLocked(ctx)
		return nil, apperrors.NewInternal("failed to fetch created profile", err)
	}

	creds.Username = profile.Username
	m.user = profile
	m.lastRefresh = m.now()
	m.initialized = true
	if err := m.store.Save(creds); err != nil {
		logger.WarnWithFields("Failed to persist session", err)
	}
	return profile, nil
}

// SignOut revokes the session remotely and clears it locally. The local
// session is cleared even when the remote call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.creds != nil {
		err = m.client.SignOut(ctx)
	}
	m.clearLocked()
	m.lastRefresh = m.now()
	if err != nil {
		return apperrors.NewNetwork("sign out failed", err)
	}
	return nil
}

// RefreshIfStale refreshes the token and profile unless that happened
// within the refresh threshold. It does nothing before Init.
func (m *Manager) RefreshIfStale(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	now := m.now()
	if now.Sub(m.lastRefresh) < m.threshold {
		logger.Log.Debug("Session was refreshed recently, skipping refresh")
		return nil
	}
	m.lastRefresh = now

	if m.creds == nil {
		m.user = nil
		return nil
	}

	if m.creds.ExpiresWithin(now, m.threshold) {
		creds, err := m.refreshLocked(ctx, m.creds)
		if err != nil {
			m.clearLocked()
			return apperrors.NewAuth("session expired", err)
		}
		m.applyLocked(creds)
		if err := m.store.Save(creds); err != nil {
			logger.WarnWithFields("Failed to persist session", err)
		}
	}

	if m.user == nil {
		profile, err := m.client.GetProfile(ctx, m.creds.UserID)
		if err != nil {
			logger.WarnWithFields("Profile fetch error", err)
			return nil
		}
		m.user = profile
	}
	return nil
}

// HandleLifecycle reacts to host lifecycle changes.
func (m *Manager) HandleLifecycle(ctx context.Context, state string) error {
	switch state {
	case StateForeground:
		return m.RefreshIfStale(ctx)
	case StateBackground:
		return nil
	default:
		return apperrors.NewValidation("unknown lifecycle state " + state)
	}
}

// Account asks the auth server who the stored token belongs to. A rejected
// token is reported as an auth error; the stored session is left alone so
// RefreshIfStale can still recover it.
func (m *Manager) Account(ctx context.Context) (*supabase.User, error) {
	uid, err := m.RequireUser()
	if err != nil {
		return nil, err
	}
	user, err := m.client.GetUser(ctx)
	if err != nil {
		if supabase.IsUnauthorized(err) {
			return nil, apperrors.NewAuth("session is no longer valid", err)
		}
		return nil, err
	}
	if user.ID != uid {
		return nil, apperrors.NewAuth("session belongs to another account", nil)
	}
	return user, nil
}

// User returns the signed-in profile, or nil.
func (m *Manager) User() *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// UserID returns the signed-in user's id, or "".
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.UserID
}

// RequireUser returns the user id or an auth error when signed out.
func (m *Manager) RequireUser() (string, error) {
	id := m.UserID()
	if id == "" {
		return "", apperrors.NewAuth("not signed in", nil)
	}
	return id, nil
}

func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Manager) refreshLocked(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, apperrors.NewAuth("no refresh token stored", nil)
	}
	s, err := m.client.RefreshSession(ctx, creds.RefreshToken)
	if err != nil {
		return nil, err
	}
	next := credentialsFrom(s)
	if next.Username == "" {
		next.Username = creds.Username
	}
	return next, nil
}

func (m *Manager) applyLocked(creds *Credentials) {
	m.creds = creds
	m.client.SetAccessToken(creds.AccessToken)
}

func (m *Manager) clearLocked() {
	m.creds = nil
	m.user = nil
	m.client.SetAccessToken("")
	if err := m.store.Delete(); err != nil {
		logger.WarnWithFields("Failed to delete stored session", err)
	}
}

// abortLocked undoes a half-finished sign in or sign up.
func (m *Manager) abortLocked(ctx context.Context) {
	if err := m.client.SignOut(ctx); err != nil {
		logger.WarnWithFields("Sign out after failed sign in", err)
	}
	m.clearLocked()
}

func credentialsFrom(s *supabase.Session) *Credentials {
	creds := &Credentials{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.Expiry(),
		UserID:       s.User.ID,
		Email:        s.User.Email,
	}
	if creds.ExpiresAt.IsZero() && creds.AccessToken != "" {
		if exp, err := tokenExpiry(creds.AccessToken); err == nil {
			creds.ExpiresAt = exp
		}
	}
	return creds
}
