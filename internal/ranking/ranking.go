// Package ranking orders feed posts for the viewer.
//
// A post's score is the sum of independent terms: engagement counts,
// a linear recency decay, a bonus for posts by the viewer's connections and
// bonuses for attached analyses and written content. Scoring is pure; the
// evaluation time is always passed in.
package ranking

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/betterme/betterme/internal/models"
)

// ErrMissingCreatedAt marks a post that arrived without a timestamp.
var ErrMissingCreatedAt = errors.New("post has no created_at")

// Weights sets how much each term contributes to a score.
type Weights struct {
	// Reaction and Comment are awarded per item.
	Reaction float64 `json:"reaction"`
	Comment  float64 `json:"comment"`
	// RecencyHours is both the bonus for a brand new post and the number of
	// hours over which that bonus decays to zero, one point per hour.
	RecencyHours float64 `json:"recency_hours"`
	Connection   float64 `json:"connection"`
	Analysis     float64 `json:"analysis"`
	BeforeAfter  float64 `json:"before_after"`
	Content      float64 `json:"content"`
}

func DefaultWeights() Weights {
	return Weights{
		Reaction:     10,
		Comment:      15,
		RecencyHours: 100,
		Connection:   50,
		Analysis:     20,
		BeforeAfter:  30,
		Content:      10,
	}
}

// Breakdown shows how each term contributed to the final score.
type Breakdown struct {
	Reactions   float64 `json:"reactions"`
	Comments    float64 `json:"comments"`
	Recency     float64 `json:"recency"`
	Connection  float64 `json:"connection"`
	Analysis    float64 `json:"analysis"`
	BeforeAfter float64 `json:"before_after"`
	Content     float64 `json:"content"`
	Total       float64 `json:"total"`
}

// RankedPost is a post with the score it was ranked by.
type RankedPost struct {
	models.Post
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// ConnectionSet holds the ids of users connected to the viewer.
type ConnectionSet map[string]struct{}

// NewConnectionSet collects the other participant of every accepted
// connection involving viewerID.
func NewConnectionSet(viewerID string, connections []models.Connection) ConnectionSet {
	set := make(ConnectionSet, len(connections))
	for i := range connections {
		c := &connections[i]
		if c.Status != models.ConnectionAccepted || !c.Involves(viewerID) {
			continue
		}
		set[c.Other(viewerID)] = struct{}{}
	}
	return set
}

// ConnectionSetOf builds a set from raw user ids.
func ConnectionSetOf(userIDs ...string) ConnectionSet {
	set := make(ConnectionSet, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return set
}

func (s ConnectionSet) Has(userID string) bool {
	_, ok := s[userID]
	return ok
}

// Validate reports whether a post can be ranked.
func Validate(p *models.Post) error {
	if p.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}
	return nil
}

// Partition splits posts into rankable and malformed ones, keeping order.
func Partition(posts []models.Post) (valid, malformed []models.Post) {
	valid = make([]models.Post, 0, len(posts))
	for i := range posts {
		if Validate(&posts[i]) != nil {
			malformed = append(malformed, posts[i])
			continue
		}
		valid = append(valid, posts[i])
	}
	return valid, malformed
}

type Ranker struct {
	weights Weights
}

func New(w Weights) *Ranker {
	return &Ranker{weights: w}
}

func (r *Ranker) Weights() Weights {
	return r.weights
}

// Score computes the score of a single post at now.
func (r *Ranker) Score(p *models.Post, connections ConnectionSet, now time.Time) Breakdown {
	w := r.weights
	b := Breakdown{
		Reactions: w.Reaction * float64(len(p.Reactions)),
		Comments:  w.Comment * float64(len(p.Comments)),
		Recency:   recency(p.CreatedAt, now, w.RecencyHours),
	}

	if connections.Has(p.UserID) {
		b.Connection = w.Connection
	}
	if p.Analysis != nil {
		b.Analysis = w.Analysis
	}
	if p.BeforeAnalysis != nil && p.AfterAnalysis != nil {
		b.BeforeAfter = w.BeforeAfter
	}
	if strings.TrimSpace(p.ContentText()) != "" {
		b.Content = w.Content
	}

	b.Total = b.Reactions + b.Comments + b.Recency + b.Connection + b.Analysis + b.BeforeAfter + b.Content
	return b
}

// recency decays one point per hour since posting. Posts dated in the
// future are treated as posted at now.
func recency(createdAt, now time.Time, horizon float64) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Max(0, horizon-hours)
}

// Rank scores posts and orders them by descending score. Posts with equal
// scores keep their input order. Posts failing Validate are left out. The
// input slice is not modified.
func (r *Ranker) Rank(posts []models.Post, connections ConnectionSet, now time.Time) []RankedPost {
	ranked := make([]RankedPost, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		if Validate(p) != nil {
			continue
		}
		b := r.Score(p, connections, now)
		ranked = append(ranked, RankedPost{Post: *p, Score: b.Total, Breakdown: b})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Rank orders posts with DefaultWeights.
func Rank(posts []models.Post, connections ConnectionSet, now time.Time) []RankedPost {
	return New(DefaultWeights()).Rank(posts, connections, now)
}
