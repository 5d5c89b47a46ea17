package analysis

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/storage"
	"github.com/betterme/betterme/internal/supabase"
	"github.com/betterme/betterme/internal/vision"
)

type fakeAnalyzer struct {
	err    error
	gender models.Gender
	calls  int
}

func rating(v float64) *vision.Rating {
	r := vision.Rating(v)
	return &r
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ vision.Photos, gender models.Gender) (*vision.AnalysisResult, error) {
	f.calls++
	f.gender = gender
	if f.err != nil {
		return nil, f.err
	}
	return &vision.AnalysisResult{
		Facial:          &vision.FacialAnalysis{FaceShape: "oval"},
		Skin:            &vision.SkinAnalysis{},
		Hair:            &vision.HairAnalysis{},
		Teeth:           &vision.TeethAnalysis{},
		Body:            &vision.BodyAnalysis{},
		Recommendations: &vision.Recommendations{Lifestyle: &vision.Lifestyle{}},
		Ratings: &vision.Ratings{
			Face: rating(7), Hair: rating(6), Teeth: rating(8), Body: rating(5), Overall: rating(6.5),
		},
	}, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	failSlot string
	uploaded []string
	deleted  []string
}

func (f *fakeUploader) UploadPhoto(_ context.Context, userID, slot string, data []byte, contentType string) (*storage.UploadResult, error) {
	if slot == f.failSlot {
		return nil, apperrors.NewNetwork("upload failed", errors.New("timeout"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "analyses/" + userID + "/" + slot + "/x.png"
	f.uploaded = append(f.uploaded, key)
	return &storage.UploadResult{Key: key, URL: "https://cdn/" + key, Size: int64(len(data))}, nil
}

func (f *fakeUploader) DeleteFile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeUploader) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.deleted...)
	sort.Strings(out)
	return out
}

type fakeStore struct {
	created   *supabase.NewAnalysis
	createErr error
	ratingErr error
	rating    float64
}

func (f *fakeStore) CreateAnalysis(_ context.Context, a supabase.NewAnalysis) (*models.Analysis, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &a
	return &models.Analysis{ID: "an-1", UserID: a.UserID, OverallRating: a.OverallRating}, nil
}

func (f *fakeStore) UpdateProfileRating(_ context.Context, _ string, rating float64) error {
	f.rating = rating
	return f.ratingErr
}

type identity struct{ profile *models.Profile }

func (i identity) RequireUser() (string, error) {
	if i.profile == nil {
		return "", apperrors.NewAuth("not signed in", nil)
	}
	return i.profile.ID, nil
}

func (i identity) User() *models.Profile { return i.profile }

type fakeFeed struct {
	posts       []feed.PostInput
	invalidated []string
	err         error
}

func (f *fakeFeed) CreatePost(_ context.Context, in feed.PostInput) (*models.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posts = append(f.posts, in)
	return &models.Post{ID: "post-1", Type: in.Type, AnalysisID: &in.AnalysisID}, nil
}

func (f *fakeFeed) Invalidate(_ context.Context, key string) error {
	f.invalidated = append(f.invalidated, key)
	return nil
}

func photos() vision.Photos {
	p := vision.Photos{}
	for _, slot := range vision.Slots {
		p[slot] = &vision.Image{MIMEType: "image/png", Data: []byte("png")}
	}
	return p
}

type fixture struct {
	analyzer *fakeAnalyzer
	uploader *fakeUploader
	store    *fakeStore
	feed     *fakeFeed
	svc      *Service
}

func newFixture(profile *models.Profile) *fixture {
	f := &fixture{
		analyzer: &fakeAnalyzer{},
		uploader: &fakeUploader{},
		store:    &fakeStore{},
		feed:     &fakeFeed{},
	}
	f.svc = NewService(f.analyzer, f.uploader, f.store, identity{profile}, f.feed)
	return f
}

func me() *models.Profile {
	return &models.Profile{ID: "u1", Username: "alice", Gender: models.GenderFemale}
}

func TestRunStoresAnalysis(t *testing.T) {
	f := newFixture(me())

	res, err := f.svc.Run(context.Background(), photos(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "an-1", res.Analysis.ID)
	assert.Nil(t, res.Post)
	assert.Len(t, f.uploader.uploaded, len(vision.Slots))
	assert.Empty(t, f.uploader.Deleted())
	assert.Equal(t, models.GenderFemale, f.analyzer.gender)

	created := f.store.created
	require.NotNil(t, created)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "https://cdn/analyses/u1/front/x.png", *created.FrontImageURL)
	assert.Equal(t, "https://cdn/analyses/u1/teeth/x.png", *created.TeethImageURL)
	assert.Equal(t, 6.5, *created.OverallRating)
	assert.Equal(t, 8.0, *created.TeethRating)
	assert.Contains(t, created.AnalysisText, `"face_shape":"oval"`)

	assert.Equal(t, 6.5, f.store.rating)
	assert.Equal(t, []string{feed.KeyAnalyses, feed.KeyProfiles}, f.feed.invalidated)
}

func TestRunShares(t *testing.T) {
	f := newFixture(me())

	res, err := f.svc.Run(context.Background(), photos(), Options{Share: true, Caption: "day one"})
	require.NoError(t, err)
	require.NotNil(t, res.Post)
	require.Len(t, f.feed.posts, 1)
	assert.Equal(t, feed.PostInput{Type: models.PostTypeAnalysis, Content: "day one", AnalysisID: "an-1"}, f.feed.posts[0])
}

func TestRunShareFailureKeepsAnalysis(t *testing.T) {
	f := newFixture(me())
	f.feed.err = apperrors.NewModeration("spam")

	res, err := f.svc.Run(context.Background(), photos(), Options{Share: true, Caption: "buy now"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeModeration))
	require.NotNil(t, res)
	assert.Equal(t, "an-1", res.Analysis.ID)
	assert.Empty(t, f.uploader.Deleted())
}

func TestRunAnalyzerFailureSkipsUploads(t *testing.T) {
	f := newFixture(me())
	f.analyzer.err = vision.ErrImageTooBlurry

	_, err := f.svc.Run(context.Background(), photos(), Options{})
	assert.ErrorIs(t, err, vision.ErrImageTooBlurry)
	assert.Empty(t, f.uploader.uploaded)
	assert.Nil(t, f.store.created)
}

func TestRunUploadFailureCleansUp(t *testing.T) {
	f := newFixture(me())
	f.uploader.failSlot = string(vision.SlotHair)

	_, err := f.svc.Run(context.Background(), photos(), Options{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNetwork))
	assert.Nil(t, f.store.created)

	uploaded := append([]string(nil), f.uploader.uploaded...)
	sort.Strings(uploaded)
	assert.Equal(t, uploaded, f.uploader.Deleted())
}

func TestRunStoreFailureCleansUp(t *testing.T) {
	f := newFixture(me())
	f.store.createErr = errors.New("rls violation")

	_, err := f.svc.Run(context.Background(), photos(), Options{})
	require.Error(t, err)
	assert.Len(t, f.uploader.Deleted(), len(vision.Slots))
	assert.Empty(t, f.feed.invalidated)
}

func TestRunRatingFailureIsNotFatal(t *testing.T) {
	f := newFixture(me())
	f.store.ratingErr = errors.New("offline")

	_, err := f.svc.Run(context.Background(), photos(), Options{})
	assert.NoError(t, err)
}

func TestRunValidation(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.Run(context.Background(), photos(), Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeAuth))

	f = newFixture(me())
	p := photos()
	delete(p, vision.SlotBody)
	_, err = f.svc.Run(context.Background(), p, Options{})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "body")
	assert.Zero(t, f.analyzer.calls)
}

func TestGender(t *testing.T) {
	f := newFixture(me())
	_, err := f.svc.Run(context.Background(), photos(), Options{Gender: models.GenderMale})
	require.NoError(t, err)
	assert.Equal(t, models.GenderMale, f.analyzer.gender)

	f = newFixture(&models.Profile{ID: "u2"})
	_, err = f.svc.Run(context.Background(), photos(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.GenderOther, f.analyzer.gender)
}
