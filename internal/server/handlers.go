package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/session"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), ErrorResponse{
		Code:       string(apperrors.TypeOf(err)),
		Message:    err.Error(),
		Suggestion: apperrors.Suggestion(err),
	})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperrors.New(apperrors.ErrorTypeValidation, "invalid request body", err))
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "healthy", "signed_in": false}
	if u := s.session.User(); u != nil {
		body["signed_in"] = true
		body["user"] = u.Username
	}
	c.JSON(http.StatusOK, body)
}

// Feed

func (s *Server) getFeed(c *gin.Context) {
	posts, err := s.feed.Feed(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

type createPostRequest struct {
	Type             models.PostType `json:"type" binding:"required"`
	Content          string          `json:"content"`
	AnalysisID       string          `json:"analysis_id"`
	BeforeAnalysisID string          `json:"before_analysis_id"`
	AfterAnalysisID  string          `json:"after_analysis_id"`
}

func (s *Server) createPost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	post, err := s.feed.CreatePost(c.Request.Context(), feed.PostInput{
		Type:             req.Type,
		Content:          req.Content,
		AnalysisID:       req.AnalysisID,
		BeforeAnalysisID: req.BeforeAnalysisID,
		AfterAnalysisID:  req.AfterAnalysisID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

type reactionRequest struct {
	Type models.ReactionType `json:"type" binding:"required"`
}

func (s *Server) toggleReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	current, err := s.feed.ToggleReaction(c.Request.Context(), c.Param("id"), req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": c.Param("id"), "reaction": current})
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) addComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	comment, err := s.feed.AddComment(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (s *Server) userPosts(c *gin.Context) {
	posts, err := s.feed.UserPosts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// Connections

func (s *Server) listConnections(c *gin.Context) {
	conns, err := s.feed.Connections(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

func (s *Server) pendingConnections(c *gin.Context) {
	conns, err := s.feed.PendingRequests(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

func (s *Server) suggestedConnections(c *gin.Context) {
	profiles, err := s.feed.SuggestedConnections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

type connectionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) requestConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conn, err := s.feed.SendConnectionRequest(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (s *Server) acceptConnection(c *gin.Context) {
	s.noContent(c, s.feed.AcceptConnection(c.Request.Context(), c.Param("id")))
}

func (s *Server) rejectConnection(c *gin.Context) {
	s.noContent(c, s.feed.RejectConnection(c.Request.Context(), c.Param("id")))
}

func (s *Server) removeConnection(c *gin.Context) {
	s.noContent(c, s.feed.RemoveConnection(c.Request.Context(), c.Param("id")))
}

// Notifications

func (s *Server) listNotifications(c *gin.Context) {
	list, err := s.feed.Notifications(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (s *Server) unreadCount(c *gin.Context) {
	n, err := s.feed.UnreadCount(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (s *Server) markRead(c *gin.Context) {
	s.noContent(c, s.feed.MarkNotificationRead(c.Request.Context(), c.Param("id")))
}

func (s *Server) markAllRead(c *gin.Context) {
	s.noContent(c, s.feed.MarkAllRead(c.Request.Context()))
}

// Lifecycle and cache

type lifecycleRequest struct {
	State string `json:"state" binding:"required"`
}

// lifecycle relays host app state changes. Coming to the foreground
// refreshes the session and then every stale list.
func (s *Server) lifecycle(c *gin.Context) {
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	state := strings.ToLower(req.State)
	ctx := c.Request.Context()

	if err := s.session.HandleLifecycle(ctx, state); err != nil {
		respondError(c, err)
		return
	}
	if state == session.StateForeground {
		if err := s.feed.RefreshIfStale(ctx); err != nil {
			respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) invalidate(c *gin.Context) {
	s.noContent(c, s.feed.Invalidate(c.Request.Context(), c.Param("key")))
}

func (s *Server) noContent(c *gin.Context, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
