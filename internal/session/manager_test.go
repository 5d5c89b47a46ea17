package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/supabase"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAuth struct {
	now func() time.Time

	signInErr   error
	signUpErr   error
	refreshErr  error
	profileErr  error
	createErr   error
	userErr     error
	userID      string
	noToken     bool
	token       string
	refreshes   int
	profiles    int
	signOuts    int
	created     []supabase.NewProfile
	profileName string
}

func (f *fakeAuth) session(id string) *supabase.Session {
	s := &supabase.Session{
		AccessToken:  "at-" + id,
		RefreshToken: "rt-" + id,
		ExpiresAt:    f.now().Add(time.Hour).Unix(),
		User:         supabase.User{ID: id, Email: id + "@example.com"},
	}
	if f.noToken {
		s.AccessToken = ""
	}
	return s
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, _ string) (*supabase.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session("u1"), nil
}

func (f *fakeAuth) SignUp(context.Context, string, string) (*supabase.Session, error) {
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return f.session("u1"), nil
}

func (f *fakeAuth) RefreshSession(_ context.Context, rt string) (*supabase.Session, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session("u1"), nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.signOuts++
	return nil
}

func (f *fakeAuth) GetUser(context.Context) (*supabase.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	id := f.userID
	if id == "" {
		id = "u1"
	}
	return &supabase.User{ID: id, Email: id + "@example.com"}, nil
}

func (f *fakeAuth) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.profiles++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	name := f.profileName
	if name == "" {
		name = "sam"
	}
	return &models.Profile{ID: id, Username: name}, nil
}

func (f *fakeAuth) CreateProfile(_ context.Context, p supabase.NewProfile) (*models.Profile, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	return &models.Profile{ID: p.ID, Username: p.Username, Gender: p.Gender}, nil
}

func (f *fakeAuth) SetAccessToken(token string) { f.token = token }

func newTestManager(t *testing.T) (*Manager, *fakeAuth, *MemoryStore, *clock) {
	t.Helper()
	clk := &clock{now: epoch}
	auth := &fakeAuth{now: clk.Now}
	store := &MemoryStore{}
	return NewManager(auth, store, WithClock(clk.Now)), auth, store, clk
}

func TestInitWithoutStoredSession(t *testing.T) {
	m, auth, _, _ := newTestManager(t)

	require.NoError(t, m.Init(context.Background()))
	assert.True(t, m.Initialized())
	assert.Nil(t, m.User())
	assert.Empty(t, m.UserID())
	assert.Zero(t, auth.profiles)

	_, err := m.RequireUser()
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))
}

func TestInitRestoresValidSession(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{
		AccessToken: "stored", RefreshToken: "rt", ExpiresAt: epoch.Add(time.Hour), UserID: "u1",
	}))

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, "stored", auth.token)
	assert.Zero(t, auth.refreshes)
	require.NotNil(t, m.User())
	assert.Equal(t, "sam", m.User().Username)
}

func TestInitRefreshesExpiredSession(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{
		AccessToken: "old", RefreshToken: "rt", ExpiresAt: epoch.Add(-time.Minute), UserID: "u1", Username: "sam",
	}))

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, 1, auth.refreshes)
	assert.Equal(t, "at-u1", auth.token)
	assert.Equal(t, "u1", m.UserID())
}

func TestInitDropsUnrefreshableSession(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	auth.refreshErr = errors.New("invalid refresh token")
	require.NoError(t, store.Save(&Credentials{AccessToken: "old", RefreshToken: "rt", UserID: "u1"}))

	require.NoError(t, m.Init(context.Background()))
	assert.True(t, m.Initialized())
	assert.Empty(t, m.UserID())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestInitIsIdempotent(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(time.Hour), UserID: "u1"}))

	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, 1, auth.profiles)
}

func TestRefreshIfStaleBeforeInitIsNoop(t *testing.T) {
	m, auth, _, clk := newTestManager(t)
	clk.Advance(time.Hour)

	require.NoError(t, m.RefreshIfStale(context.Background()))
	assert.Zero(t, auth.refreshes)
	assert.Zero(t, auth.profiles)
}

func TestRefreshIfStaleRespectsThreshold(t *testing.T) {
	m, auth, store, clk := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(8 * time.Minute), UserID: "u1"}))
	auth.profileErr = errors.New("offline")
	require.NoError(t, m.Init(context.Background()))
	require.Nil(t, m.User())
	auth.profileErr = nil

	clk.Advance(4 * time.Minute)
	require.NoError(t, m.RefreshIfStale(context.Background()))
	assert.Zero(t, auth.refreshes)
	assert.Nil(t, m.User(), "within the threshold nothing is fetched")

	clk.Advance(time.Minute)
	require.NoError(t, m.RefreshIfStale(context.Background()))
	assert.Equal(t, 1, auth.refreshes, "token expiring within the threshold is refreshed")
	require.NotNil(t, m.User())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "at-u1", stored.AccessToken)
}

func TestRefreshIfStaleSignsOutOnRefreshFailure(t *testing.T) {
	m, auth, store, clk := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(2 * time.Minute), UserID: "u1"}))
	require.NoError(t, m.Init(context.Background()))

	auth.refreshErr = errors.New("revoked")
	clk.Advance(10 * time.Minute)
	err := m.RefreshIfStale(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))
	assert.Empty(t, m.UserID())
	assert.Empty(t, auth.token)
}

func TestHandleLifecycle(t *testing.T) {
	m, auth, store, clk := newTestManager(t)
	require.NoError(t, store.Save(&Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(time.Minute * 3), UserID: "u1"}))
	require.NoError(t, m.Init(context.Background()))

	clk.Advance(6 * time.Minute)
	require.NoError(t, m.HandleLifecycle(context.Background(), StateBackground))
	assert.Zero(t, auth.refreshes)

	require.NoError(t, m.HandleLifecycle(context.Background(), StateForeground))
	assert.Equal(t, 1, auth.refreshes)

	err := m.HandleLifecycle(context.Background(), "suspended")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
}

func TestSignInPersistsSession(t *testing.T) {
	m, auth, store, _ := newTestManager(t)

	profile, err := m.SignIn(context.Background(), "u1@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "sam", profile.Username)
	assert.Equal(t, "at-u1", auth.token)
	assert.True(t, m.Initialized())

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "sam", stored.Username)
	assert.Equal(t, epoch.Add(time.Hour).Unix(), stored.ExpiresAt.Unix())
}

func TestSignInProfileFailureSignsOut(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	auth.profileErr = errors.New("profile missing")

	_, err := m.SignIn(context.Background(), "u1@example.com", "pw")
	require.Error(t, err)
	assert.Equal(t, 1, auth.signOuts)
	assert.Empty(t, auth.token)
	assert.Empty(t, m.UserID())

	stored, _ := store.Load()
	assert.Nil(t, stored)
}

func TestAccount(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Account(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth), "signed out")

	_, err = m.SignIn(ctx, "u1@example.com", "pw")
	require.NoError(t, err)

	user, err := m.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", user.Email)

	auth.userID = "someone-else"
	_, err = m.Account(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))

	auth.userID = ""
	auth.userErr = errors.New("offline")
	_, err = m.Account(ctx)
	require.Error(t, err)
	assert.False(t, apperrors.Is(err, apperrors.ErrorTypeAuth))
	assert.Equal(t, "u1", m.UserID(), "a failed check keeps the session")
}

func TestSignInRejected(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	auth.signInErr = errors.New("Invalid login credentials")

	_, err := m.SignIn(context.Background(), "u1@example.com", "bad")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))
}

func TestSignUpCreatesProfile(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	auth.profileName = "newbie"

	profile, err := m.SignUp(context.Background(), "u1@example.com", "pw", "  newbie ", models.GenderFemale)
	require.NoError(t, err)
	assert.Equal(t, "newbie", profile.Username)
	require.Len(t, auth.created, 1)
	assert.Equal(t, supabase.NewProfile{ID: "u1", Username: "newbie", Gender: models.GenderFemale}, auth.created[0])
}

func TestSignUpValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.SignUp(context.Background(), "a@b.c", "pw", " ", models.GenderMale)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))

	_, err = m.SignUp(context.Background(), "a@b.c", "pw", "sam", models.Gender("robot"))
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
}

func TestSignUpAlreadyRegistered(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	auth.signUpErr = errors.New("User already registered")

	_, err := m.SignUp(context.Background(), "a@b.c", "pw", "sam", models.GenderOther)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeConflict))
}

func TestSignUpProfileFailureSignsOut(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	auth.createErr = errors.New("duplicate username")

	_, err := m.SignUp(context.Background(), "a@b.c", "pw", "sam", models.GenderOther)
	require.Error(t, err)
	assert.Equal(t, 1, auth.signOuts)
	assert.Empty(t, m.UserID())
}

func TestSignUpAwaitingConfirmation(t *testing.T) {
	m, auth, _, _ := newTestManager(t)
	auth.noToken = true

	_, err := m.SignUp(context.Background(), "a@b.c", "pw", "sam", models.GenderOther)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))
	assert.Empty(t, auth.created)
}

func TestSignOutClearsEverything(t *testing.T) {
	m, auth, store, _ := newTestManager(t)
	_, err := m.SignIn(context.Background(), "u1@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, m.SignOut(context.Background()))
	assert.Equal(t, 1, auth.signOuts)
	assert.Nil(t, m.User())
	stored, _ := store.Load()
	assert.Nil(t, stored)
}

func TestDisposeKeepsStoredCredentials(t *testing.T) {
	m, _, store, _ := newTestManager(t)
	_, err := m.SignIn(context.Background(), "u1@example.com", "pw")
	require.NoError(t, err)

	m.Dispose()
	assert.False(t, m.Initialized())
	assert.Empty(t, m.UserID())

	stored, _ := store.Load()
	assert.NotNil(t, stored)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s := NewFileStore(path)

	missing, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, missing)

	creds := &Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch, UserID: "u1", Email: "e"}
	require.NoError(t, s.Save(creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "u1", loaded.UserID)
	assert.True(t, epoch.Equal(loaded.ExpiresAt))

	require.NoError(t, s.Delete())
	require.NoError(t, s.Delete())
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestTokenExpiryFallback(t *testing.T) {
	exp := epoch.Add(30 * time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	creds := credentialsFrom(&supabase.Session{AccessToken: token, User: supabase.User{ID: "u1"}})
	assert.Equal(t, exp.Unix(), creds.ExpiresAt.Unix())

	_, err = tokenExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestExpiresWithin(t *testing.T) {
	c := &Credentials{ExpiresAt: epoch.Add(5 * time.Minute)}
	assert.False(t, c.ExpiresWithin(epoch, 4*time.Minute))
	assert.True(t, c.ExpiresWithin(epoch, 5*time.Minute))
	assert.True(t, (&Credentials{}).ExpiresWithin(epoch, 0))
}
