package feed

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/ranking"
	"github.com/betterme/betterme/internal/supabase"
)

// PostInput describes a post to share. Analysis posts reference one
// analysis; before/after posts reference two.
type PostInput struct {
	Type             models.PostType
	Content          string
	AnalysisID       string
	BeforeAnalysisID string
	AfterAnalysisID  string
}

func (in PostInput) validate() error {
	switch in.Type {
	case models.PostTypeAnalysis:
		if in.AnalysisID == "" {
			return apperrors.NewValidation("an analysis post needs an analysis")
		}
	case models.PostTypeBeforeAfter:
		if in.BeforeAnalysisID == "" || in.AfterAnalysisID == "" {
			return apperrors.NewValidation("a before/after post needs two analyses")
		}
		if in.BeforeAnalysisID == in.AfterAnalysisID {
			return apperrors.NewValidation("before and after analyses must differ")
		}
	default:
		return apperrors.NewValidation("unknown post type " + string(in.Type))
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UserPosts returns one member's posts, newest first. They are fetched on
// every call since only the shared feed is cached.
func (s *Service) UserPosts(ctx context.Context, userID string) ([]models.Post, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	posts, err := s.backend.ListPostsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	valid, malformed := ranking.Partition(posts)
	if len(malformed) > 0 {
		logger.Log.Warn("Dropping posts without created_at", zap.String("user_id", userID), zap.Int("count", len(malformed)))
	}
	return valid, nil
}

// CreatePost moderates the caption, stores the post and notifies the
// author's connections. The post list is invalidated so watchers refetch it.
func (s *Service) CreatePost(ctx context.Context, in PostInput) (*models.Post, error) {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return nil, err
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.moderate(ctx, in.Content); err != nil {
		return nil, err
	}

	p := supabase.NewPost{
		UserID:  uid,
		Type:    in.Type,
		Content: in.Content,
	}
	if in.Type == models.PostTypeAnalysis {
		p.AnalysisID = optional(in.AnalysisID)
	} else {
		p.BeforeAnalysisID = optional(in.BeforeAnalysisID)
		p.AfterAnalysisID = optional(in.AfterAnalysisID)
	}

	post, err := s.backend.CreatePost(ctx, p)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Post created", zap.String("post_id", post.ID), zap.String("type", string(post.Type)))

	s.notifyConnections(ctx, uid, post)
	s.cache.Invalidate(ctx, KeyPosts)
	return post, nil
}

// notifyConnections fans a connection_post notification out to every
// accepted connection. Failures are logged; the post already exists.
func (s *Service) notifyConnections(ctx context.Context, uid string, post *models.Post) {
	conns, err := s.connections.Load(ctx, nil)
	if err != nil {
		logger.WarnWithFields("Skipping post notifications", err, zap.String("post_id", post.ID))
		return
	}

	username := ""
	if u := s.identity.User(); u != nil {
		username = u.Username
	}

	var batch []supabase.NewNotification
	for i := range conns {
		c := &conns[i]
		if c.Status != models.ConnectionAccepted || !c.Involves(uid) {
			continue
		}
		batch = append(batch, supabase.NewNotification{
			UserID: c.Other(uid),
			Type:   models.NotificationConnectionPost,
			Data: map[string]any{
				"post_id":   post.ID,
				"username":  username,
				"post_type": string(post.Type),
			},
		})
	}
	if len(batch) == 0 {
		return
	}
	if err := s.backend.CreateNotifications(ctx, batch); err != nil {
		logger.WarnWithFields("Failed to notify connections", err,
			zap.String("post_id", post.ID),
			zap.Int("recipients", len(batch)),
		)
	}
}

func (s *Service) moderate(ctx context.Context, text string) error {
	if s.moderator == nil || text == "" {
		return nil
	}
	return s.moderator.Check(ctx, text)
}

// ToggleReaction sets the user's reaction on a post. Reacting again with
// the same type removes it; another type replaces it. It returns the
// reaction now in place, or "" when none is.
func (s *Service) ToggleReaction(ctx context.Context, postID string, t models.ReactionType) (models.ReactionType, error) {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return "", err
	}
	if !t.Valid() {
		return "", apperrors.NewValidation("unknown reaction " + string(t))
	}

	var result models.ReactionType
	_, err = s.posts.Mutate(ctx,
		func(posts []models.Post) []models.Post {
			result = t
			i := slices.IndexFunc(posts, func(p models.Post) bool { return p.ID == postID })
			if i < 0 {
				return posts
			}
			reactions := make([]models.Reaction, 0, len(posts[i].Reactions)+1)
			for _, r := range posts[i].Reactions {
				if r.UserID == uid {
					if r.Type == t {
						result = ""
					}
					continue
				}
				reactions = append(reactions, r)
			}
			if result != "" {
				reactions = append(reactions, models.Reaction{
					ID:        "optimistic-" + uuid.NewString(),
					PostID:    postID,
					UserID:    uid,
					Type:      t,
					CreatedAt: s.cache.Now(),
				})
			}
			posts[i].Reactions = reactions
			return posts
		},
		func(ctx context.Context) error {
			existing, err := s.backend.ListReactions(ctx, postID, uid)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				if err := s.backend.DeleteReactions(ctx, postID, uid); err != nil {
					return err
				}
				if existing[0].Type == t {
					result = ""
					return nil
				}
			}
			result = t
			_, err = s.backend.CreateReaction(ctx, postID, uid, t)
			return err
		},
	)
	if err != nil {
		return "", err
	}
	return result, nil
}

// AddComment moderates and stores a comment. Blank comments are rejected.
func (s *Service) AddComment(ctx context.Context, postID, content string) (*models.Comment, error) {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidation("comment is empty")
	}
	if err := s.moderate(ctx, content); err != nil {
		return nil, err
	}

	var created *models.Comment
	_, err = s.posts.Mutate(ctx,
		func(posts []models.Post) []models.Post {
			i := slices.IndexFunc(posts, func(p models.Post) bool { return p.ID == postID })
			if i < 0 {
				return posts
			}
			comments := slices.Clone(posts[i].Comments)
			posts[i].Comments = append(comments, models.Comment{
				ID:        "optimistic-" + uuid.NewString(),
				PostID:    postID,
				UserID:    uid,
				Content:   content,
				CreatedAt: s.cache.Now(),
				Profile:   s.identity.User(),
			})
			return posts
		},
		func(ctx context.Context) (err error) {
			created, err = s.backend.CreateComment(ctx, postID, uid, content)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return created, nil
}
