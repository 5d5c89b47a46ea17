package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/ranking"
	"github.com/betterme/betterme/internal/telemetry"
)

// Feed returns the community feed ordered by score. When a cached list is
// available onStale receives it ranked before the network returns.
func (s *Service) Feed(ctx context.Context, onStale func([]ranking.RankedPost)) (_ []ranking.RankedPost, err error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.Feed")
	defer func() { telemetry.EndSpan(span, err) }()

	connections := s.connectionSet(ctx)

	var onCached func([]models.Post)
	if onStale != nil {
		onCached = func(posts []models.Post) {
			onStale(s.rank(posts, connections, false))
		}
	}

	posts, err := s.posts.Load(ctx, onCached)
	if err != nil {
		return nil, err
	}

	ranked := s.rank(posts, connections, true)
	span.SetAttributes(
		attribute.Int("feed.posts", len(posts)),
		attribute.Int("feed.ranked", len(ranked)),
		attribute.Int("feed.connections", len(connections)),
	)
	return ranked, nil
}

// Rank scores an arbitrary list of posts for the signed-in viewer using
// cached connections.
func (s *Service) Rank(ctx context.Context, posts []models.Post) []ranking.RankedPost {
	return s.rank(posts, s.connectionSet(ctx), false)
}

func (s *Service) Weights() ranking.Weights {
	return s.ranker.Weights()
}

func (s *Service) rank(posts []models.Post, connections ranking.ConnectionSet, record bool) []ranking.RankedPost {
	start := time.Now()
	valid, malformed := ranking.Partition(posts)
	if len(malformed) > 0 {
		ids := make([]string, len(malformed))
		for i := range malformed {
			ids[i] = malformed[i].ID
		}
		logger.Log.Warn("Dropping posts without created_at", zap.Strings("post_ids", ids))
	}

	ranked := s.ranker.Rank(valid, connections, s.cache.Now())
	if record {
		s.recorder.FeedRanked(time.Since(start), len(ranked), len(malformed))
	}
	return ranked
}

// connectionSet resolves the viewer's accepted connections. A failed fetch
// falls back to whatever is cached so the feed still renders.
func (s *Service) connectionSet(ctx context.Context) ranking.ConnectionSet {
	uid := s.identity.UserID()
	if uid == "" {
		return ranking.ConnectionSet{}
	}

	conns, err := s.connections.Load(ctx, nil)
	if err != nil {
		logger.WarnWithFields("Ranking without fresh connections", err)
		conns, _ = s.connections.Peek(ctx)
	}
	return ranking.NewConnectionSet(uid, conns)
}
