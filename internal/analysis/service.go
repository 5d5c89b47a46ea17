// Package analysis runs the photo analysis workflow: vision analysis,
// photo upload, persistence and optional sharing to the feed.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/storage"
	"github.com/betterme/betterme/internal/supabase"
	"github.com/betterme/betterme/internal/telemetry"
	"github.com/betterme/betterme/internal/vision"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Analyzer interface {
	Analyze(ctx context.Context, photos vision.Photos, gender models.Gender) (*vision.AnalysisResult, error)
}

// Store persists analyses and the profile rating derived from them.
type Store interface {
	CreateAnalysis(ctx context.Context, a supabase.NewAnalysis) (*models.Analysis, error)
	UpdateProfileRating(ctx context.Context, id string, rating float64) error
}

type Identity interface {
	RequireUser() (string, error)
	User() *models.Profile
}

// Feed shares posts and invalidates cached lists. feed.Service implements it.
type Feed interface {
	CreatePost(ctx context.Context, in feed.PostInput) (*models.Post, error)
	Invalidate(ctx context.Context, key string) error
}

type Service struct {
	analyzer Analyzer
	uploader storage.PhotoUploader
	store    Store
	identity Identity
	feed     Feed
}

func NewService(analyzer Analyzer, uploader storage.PhotoUploader, store Store, identity Identity, f Feed) *Service {
	return &Service{
		analyzer: analyzer,
		uploader: uploader,
		store:    store,
		identity: identity,
		feed:     f,
	}
}

type Options struct {
	// Share posts the stored analysis to the feed.
	Share   bool
	Caption string
	// Gender overrides the profile gender for the analysis standards.
	Gender models.Gender
}

type Result struct {
	Analysis *models.Analysis
	Report   *vision.AnalysisResult
	Post     *models.Post
}

// Run analyzes photos and stores the outcome. The vision call runs before
// any upload so rejected photos never reach storage. If sharing fails the
// stored analysis is still returned along with the error.
func (s *Service) Run(ctx context.Context, photos vision.Photos, opts Options) (_ *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "analysis.Run", attribute.Bool("analysis.share", opts.Share))
	defer func() { telemetry.EndSpan(span, err) }()

	uid, err := s.identity.RequireUser()
	if err != nil {
		return nil, err
	}
	if missing := photos.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, slot := range missing {
			names[i] = string(slot)
		}
		return nil, apperrors.NewValidation("missing photos: " + strings.Join(names, ", "))
	}

	report, err := s.analyzer.Analyze(ctx, photos, s.gender(opts))
	if err != nil {
		return nil, err
	}

	urls, err := s.upload(ctx, uid, photos)
	if err != nil {
		return nil, err
	}

	text, err := json.MarshalToString(report)
	if err != nil {
		s.cleanup(urls)
		return nil, apperrors.NewInternal("failed to encode analysis", err)
	}

	face, hair, teeth, body, overall := report.Scores()
	stored, err := s.store.CreateAnalysis(ctx, supabase.NewAnalysis{
		UserID:            uid,
		FrontImageURL:     urls.url(vision.SlotFront),
		LeftSideImageURL:  urls.url(vision.SlotLeftSide),
		RightSideImageURL: urls.url(vision.SlotRightSide),
		HairImageURL:      urls.url(vision.SlotHair),
		TeethImageURL:     urls.url(vision.SlotTeeth),
		BodyImageURL:      urls.url(vision.SlotBody),
		AnalysisText:      text,
		FaceRating:        &face,
		HairRating:        &hair,
		TeethRating:       &teeth,
		BodyRating:        &body,
		OverallRating:     &overall,
	})
	if err != nil {
		s.cleanup(urls)
		return nil, err
	}
	logger.Log.Info("Analysis stored",
		zap.String("analysis_id", stored.ID),
		zap.Float64("overall_rating", overall),
	)

	if err := s.store.UpdateProfileRating(ctx, uid, overall); err != nil {
		logger.WarnWithFields("Failed to update profile rating", err, zap.String("analysis_id", stored.ID))
	}

	s.invalidate(ctx, feed.KeyAnalyses, feed.KeyProfiles)
	res := &Result{Analysis: stored, Report: report}

	if opts.Share {
		post, err := s.feed.CreatePost(ctx, feed.PostInput{
			Type:       models.PostTypeAnalysis,
			Content:    opts.Caption,
			AnalysisID: stored.ID,
		})
		if err != nil {
			return res, fmt.Errorf("analysis saved but sharing failed: %w", err)
		}
		res.Post = post
	}
	return res, nil
}

func (s *Service) gender(opts Options) models.Gender {
	if opts.Gender.Valid() {
		return opts.Gender
	}
	if u := s.identity.User(); u != nil && u.Gender.Valid() {
		return u.Gender
	}
	return models.GenderOther
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.feed == nil {
		return
	}
	for _, key := range keys {
		if err := s.feed.Invalidate(ctx, key); err != nil {
			logger.WarnWithFields("Failed to invalidate", err, zap.String("key", key))
		}
	}
}

type uploads map[vision.Slot]*storage.UploadResult

func (u uploads) url(slot vision.Slot) *string {
	if r, ok := u[slot]; ok {
		return &r.URL
	}
	return nil
}

// upload stores every photo in parallel. When one upload fails the photos
// already stored are deleted.
func (s *Service) upload(ctx context.Context, uid string, photos vision.Photos) (uploads, error) {
	var mu sync.Mutex
	done := make(uploads, len(photos))

	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range vision.Slots {
		img := photos[slot]
		g.Go(func() error {
			res, err := s.uploader.UploadPhoto(gctx, uid, string(slot), img.Data, img.MIMEType)
			if err != nil {
				return err
			}
			mu.Lock()
			done[slot] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.cleanup(done)
		return nil, err
	}
	return done, nil
}

func (s *Service) cleanup(done uploads) {
	ctx := context.Background()
	for slot, res := range done {
		if err := s.uploader.DeleteFile(ctx, res.Key); err != nil {
			logger.WarnWithFields("Failed to delete orphaned photo", err,
				zap.String("slot", string(slot)),
				zap.String("key", res.Key),
			)
		}
	}
}
