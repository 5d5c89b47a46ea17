// Package models holds the records exchanged with the hosted database.
// Field names follow the database columns; embedded relations use the
// aliases the PostgREST select strings assign them.
package models

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Gender    Gender    `json:"gender,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Rating    *float64  `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Analysis is a stored vision analysis with the photo URLs it was run on.
type Analysis struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id,omitempty"`
	FrontImageURL     *string   `json:"front_image_url,omitempty"`
	LeftSideImageURL  *string   `json:"left_side_image_url,omitempty"`
	RightSideImageURL *string   `json:"right_side_image_url,omitempty"`
	HairImageURL      *string   `json:"hair_image_url,omitempty"`
	TeethImageURL     *string   `json:"teeth_image_url,omitempty"`
	BodyImageURL      *string   `json:"body_image_url,omitempty"`
	AnalysisText      *string   `json:"analysis_text,omitempty"`
	FaceRating        *float64  `json:"face_rating,omitempty"`
	HairRating        *float64  `json:"hair_rating,omitempty"`
	TeethRating       *float64  `json:"teeth_rating,omitempty"`
	BodyRating        *float64  `json:"body_rating,omitempty"`
	OverallRating     *float64  `json:"overall_rating,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

type PostType string

const (
	PostTypeAnalysis    PostType = "analysis"
	PostTypeBeforeAfter PostType = "before_after"
)

// Post is a feed item. A zero CreatedAt means the record arrived without a
// timestamp; ranking rejects such posts.
type Post struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Type             PostType  `json:"type,omitempty"`
	AnalysisID       *string   `json:"analysis_id,omitempty"`
	BeforeAnalysisID *string   `json:"before_analysis_id,omitempty"`
	AfterAnalysisID  *string   `json:"after_analysis_id,omitempty"`
	Content          *string   `json:"content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`

	Profile        *Profile   `json:"profiles,omitempty"`
	Analysis       *Analysis  `json:"analyses,omitempty"`
	BeforeAnalysis *Analysis  `json:"before_analysis,omitempty"`
	AfterAnalysis  *Analysis  `json:"after_analysis,omitempty"`
	Comments       []Comment  `json:"comments,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
}

// ContentText returns the post text or "" when there is none.
func (p *Post) ContentText() string {
	if p.Content == nil {
		return ""
	}
	return *p.Content
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Profile   *Profile  `json:"profiles,omitempty"`
}

type ReactionType string

const (
	ReactionLike       ReactionType = "like"
	ReactionHelpful    ReactionType = "helpful"
	ReactionInsightful ReactionType = "insightful"
)

func (r ReactionType) Valid() bool {
	switch r {
	case ReactionLike, ReactionHelpful, ReactionInsightful:
		return true
	}
	return false
}

type Reaction struct {
	ID        string       `json:"id"`
	PostID    string       `json:"post_id,omitempty"`
	UserID    string       `json:"user_id"`
	Type      ReactionType `json:"type"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Connection is a directed request from User1 to User2 that becomes a
// mutual relationship once accepted.
type Connection struct {
	ID        string           `json:"id"`
	User1ID   string           `json:"user1_id"`
	User2ID   string           `json:"user2_id"`
	Status    ConnectionStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
	User1     *Profile         `json:"user1,omitempty"`
	User2     *Profile         `json:"user2,omitempty"`
}

// Other returns the id of the participant that is not userID.
func (c *Connection) Other(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// OtherProfile returns the embedded profile of the participant that is not userID.
func (c *Connection) OtherProfile(userID string) *Profile {
	if c.User1ID == userID {
		return c.User2
	}
	return c.User1
}

// Involves reports whether userID is one of the participants.
func (c *Connection) Involves(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

const (
	NotificationConnectionRequest  = "connection_request"
	NotificationConnectionAccepted = "connection_accepted"
	NotificationConnectionRejected = "connection_rejected"
	NotificationConnectionPost     = "connection_post"
)

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}
