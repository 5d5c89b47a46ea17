package supabase

import (
	"context"
	"strconv"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/models"
)

const (
	analysisSummary = "id,user_id,front_image_url,analysis_text,overall_rating,created_at"
	profileSummary  = "id,username,avatar_url,rating"

	postSelect = "*," +
		"profiles(" + profileSummary + ")," +
		"analyses!posts_analysis_id_fkey(" + analysisSummary + ")," +
		"before_analysis:analyses!posts_before_analysis_id_fkey(" + analysisSummary + ")," +
		"after_analysis:analyses!posts_after_analysis_id_fkey(" + analysisSummary + ")," +
		"comments(id,post_id,user_id,content,created_at,profiles(" + profileSummary + "))," +
		"reactions(id,post_id,user_id,type,created_at)"

	connectionSelect = "id,user1_id,user2_id,status,created_at," +
		"user1:profiles!connections_user1_id_fkey(" + profileSummary + ")," +
		"user2:profiles!connections_user2_id_fkey(" + profileSummary + ")"

	preferRepresentation = "return=representation"
)

func eq(v string) string { return "eq." + v }

func involving(userID string) string {
	return "(user1_id.eq." + userID + ",user2_id.eq." + userID + ")"
}

// NewPost is the insert payload for a post.
type NewPost struct {
	UserID           string          `json:"user_id"`
	Type             models.PostType `json:"type"`
	Content          string          `json:"content"`
	AnalysisID       *string         `json:"analysis_id,omitempty"`
	BeforeAnalysisID *string         `json:"before_analysis_id,omitempty"`
	AfterAnalysisID  *string         `json:"after_analysis_id,omitempty"`
}

// NewNotification is the insert payload for a notification.
type NewNotification struct {
	UserID string         `json:"user_id"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	Read   bool           `json:"read"`
}

// NewAnalysis is the insert payload for a stored analysis.
type NewAnalysis struct {
	UserID            string   `json:"user_id"`
	FrontImageURL     *string  `json:"front_image_url,omitempty"`
	LeftSideImageURL  *string  `json:"left_side_image_url,omitempty"`
	RightSideImageURL *string  `json:"right_side_image_url,omitempty"`
	HairImageURL      *string  `json:"hair_image_url,omitempty"`
	TeethImageURL     *string  `json:"teeth_image_url,omitempty"`
	BodyImageURL      *string  `json:"body_image_url,omitempty"`
	AnalysisText      string   `json:"analysis_text"`
	FaceRating        *float64 `json:"face_rating,omitempty"`
	HairRating        *float64 `json:"hair_rating,omitempty"`
	TeethRating       *float64 `json:"teeth_rating,omitempty"`
	BodyRating        *float64 `json:"body_rating,omitempty"`
	OverallRating     *float64 `json:"overall_rating,omitempty"`
}

// NewProfile is the insert payload for a profile row.
type NewProfile struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Gender   models.Gender `json:"gender"`
}

// Posts

// ListPosts returns the newest posts with their author, analyses, comments
// and reactions embedded.
func (c *Client) ListPosts(ctx context.Context, limit int) ([]models.Post, error) {
	var posts []models.Post
	req := c.request(ctx).
		SetQueryParam("select", postSelect).
		SetQueryParam("order", "created_at.desc").
		SetResult(&posts)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/rest/v1/posts")
	if err := check("list posts", resp, err); err != nil {
		return nil, err
	}
	return posts, nil
}

// ListPostsByUser returns one author's posts, newest first.
func (c *Client) ListPostsByUser(ctx context.Context, userID string) ([]models.Post, error) {
	var posts []models.Post
	resp, err := c.request(ctx).
		SetQueryParam("select", postSelect).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc").
		SetResult(&posts).
		Get("/rest/v1/posts")
	if err := check("list user posts", resp, err); err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *Client) CreatePost(ctx context.Context, p NewPost) (*models.Post, error) {
	var created []models.Post
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]NewPost{p}).
		SetResult(&created).
		Post("/rest/v1/posts")
	if err := check("create post", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create post returned no row", nil)
	}
	return &created[0], nil
}

// Connections

// ListConnections returns every connection the user takes part in, with
// both profiles embedded.
func (c *Client) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	resp, err := c.request(ctx).
		SetQueryParam("select", connectionSelect).
		SetQueryParam("or", involving(userID)).
		SetQueryParam("order", "created_at.desc").
		SetResult(&conns).
		Get("/rest/v1/connections")
	if err := check("list connections", resp, err); err != nil {
		return nil, err
	}
	return conns, nil
}

func (c *Client) CreateConnection(ctx context.Context, fromUserID, toUserID string) (*models.Connection, error) {
	var created []models.Connection
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]map[string]string{{
			"user1_id": fromUserID,
			"user2_id": toUserID,
			"status":   string(models.ConnectionPending),
		}}).
		SetResult(&created).
		Post("/rest/v1/connections")
	if err := check("create connection", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create connection returned no row", nil)
	}
	return &created[0], nil
}

func (c *Client) UpdateConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	resp, err := c.request(ctx).
		SetQueryParam("id", eq(id)).
		SetBody(map[string]string{"status": string(status)}).
		Patch("/rest/v1/connections")
	return check("update connection", resp, err)
}

func (c *Client) DeleteConnection(ctx context.Context, id string) error {
	resp, err := c.request(ctx).
		SetQueryParam("id", eq(id)).
		Delete("/rest/v1/connections")
	return check("delete connection", resp, err)
}

// Reactions and comments

func (c *Client) ListReactions(ctx context.Context, postID, userID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("post_id", eq(postID)).
		SetQueryParam("user_id", eq(userID)).
		SetResult(&reactions).
		Get("/rest/v1/reactions")
	if err := check("list reactions", resp, err); err != nil {
		return nil, err
	}
	return reactions, nil
}

func (c *Client) DeleteReactions(ctx context.Context, postID, userID string) error {
	resp, err := c.request(ctx).
		SetQueryParam("post_id", eq(postID)).
		SetQueryParam("user_id", eq(userID)).
		Delete("/rest/v1/reactions")
	return check("delete reactions", resp, err)
}

func (c *Client) CreateReaction(ctx context.Context, postID, userID string, t models.ReactionType) (*models.Reaction, error) {
	var created []models.Reaction
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]map[string]string{{"post_id": postID, "user_id": userID, "type": string(t)}}).
		SetResult(&created).
		Post("/rest/v1/reactions")
	if err := check("create reaction", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create reaction returned no row", nil)
	}
	return &created[0], nil
}

func (c *Client) CreateComment(ctx context.Context, postID, userID, content string) (*models.Comment, error) {
	var created []models.Comment
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]map[string]string{{"post_id": postID, "user_id": userID, "content": content}}).
		SetResult(&created).
		Post("/rest/v1/comments")
	if err := check("create comment", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create comment returned no row", nil)
	}
	return &created[0], nil
}

// Notifications

func (c *Client) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var notifications []models.Notification
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc").
		SetResult(&notifications).
		Get("/rest/v1/notifications")
	if err := check("list notifications", resp, err); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (c *Client) CreateNotifications(ctx context.Context, notifications []NewNotification) error {
	if len(notifications) == 0 {
		return nil
	}
	resp, err := c.request(ctx).
		SetBody(notifications).
		Post("/rest/v1/notifications")
	return check("create notifications", resp, err)
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	resp, err := c.request(ctx).
		SetQueryParam("id", eq(id)).
		SetBody(map[string]bool{"read": true}).
		Patch("/rest/v1/notifications")
	return check("mark notification read", resp, err)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	resp, err := c.request(ctx).
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("read", "eq.false").
		SetBody(map[string]bool{"read": true}).
		Patch("/rest/v1/notifications")
	return check("mark all notifications read", resp, err)
}

// Analyses

func (c *Client) ListAnalyses(ctx context.Context, userID string) ([]models.Analysis, error) {
	var analyses []models.Analysis
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc").
		SetResult(&analyses).
		Get("/rest/v1/analyses")
	if err := check("list analyses", resp, err); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (c *Client) CreateAnalysis(ctx context.Context, a NewAnalysis) (*models.Analysis, error) {
	var created []models.Analysis
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]NewAnalysis{a}).
		SetResult(&created).
		Post("/rest/v1/analyses")
	if err := check("create analysis", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create analysis returned no row", nil)
	}
	return &created[0], nil
}

// Profiles

func (c *Client) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profiles []models.Profile
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("id", eq(id)).
		SetQueryParam("limit", "1").
		SetResult(&profiles).
		Get("/rest/v1/profiles")
	if err := check("get profile", resp, err); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, apperrors.NewNotFound("profile")
	}
	return &profiles[0], nil
}

// ListProfiles returns profiles ordered by rating, best first.
func (c *Client) ListProfiles(ctx context.Context, limit int) ([]models.Profile, error) {
	var profiles []models.Profile
	req := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("order", "rating.desc.nullslast").
		SetResult(&profiles)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/rest/v1/profiles")
	if err := check("list profiles", resp, err); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (c *Client) CreateProfile(ctx context.Context, p NewProfile) (*models.Profile, error) {
	var created []models.Profile
	resp, err := c.request(ctx).
		SetHeader("Prefer", preferRepresentation).
		SetBody([]NewProfile{p}).
		SetResult(&created).
		Post("/rest/v1/profiles")
	if err := check("create profile", resp, err); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, apperrors.NewInternal("create profile returned no row", nil)
	}
	return &created[0], nil
}

func (c *Client) UpdateProfileRating(ctx context.Context, id string, rating float64) error {
	resp, err := c.request(ctx).
		SetQueryParam("id", eq(id)).
		SetBody(map[string]float64{"rating": rating}).
		Patch("/rest/v1/profiles")
	return check("update profile rating", resp, err)
}
