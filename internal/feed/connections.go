package feed

import (
	"context"
	"math"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
)

// Connections returns every connection involving the signed-in user.
func (s *Service) Connections(ctx context.Context, onStale func([]models.Connection)) ([]models.Connection, error) {
	if _, err := s.identity.RequireUser(); err != nil {
		return nil, err
	}
	return s.connections.Load(ctx, onStale)
}

// AcceptedConnections returns the user's established connections.
func (s *Service) AcceptedConnections(ctx context.Context) ([]models.Connection, error) {
	conns, err := s.Connections(ctx, nil)
	if err != nil {
		return nil, err
	}
	return filterConnections(conns, func(c *models.Connection) bool {
		return c.Status == models.ConnectionAccepted
	}), nil
}

// PendingRequests returns requests addressed to the user awaiting an answer.
func (s *Service) PendingRequests(ctx context.Context) ([]models.Connection, error) {
	conns, err := s.Connections(ctx, nil)
	if err != nil {
		return nil, err
	}
	uid := s.identity.UserID()
	return filterConnections(conns, func(c *models.Connection) bool {
		return c.Status == models.ConnectionPending && c.User2ID == uid
	}), nil
}

func filterConnections(conns []models.Connection, keep func(*models.Connection) bool) []models.Connection {
	out := make([]models.Connection, 0, len(conns))
	for i := range conns {
		if keep(&conns[i]) {
			out = append(out, conns[i])
		}
	}
	return out
}

// suggestionRange is how far from the viewer's rating a suggested profile
// may be rated.
const suggestionRange = 1.0

// SuggestedConnections lists profiles rated within one point of the viewer,
// leaving out the viewer and anyone they already have a connection row with,
// whatever its status.
func (s *Service) SuggestedConnections(ctx context.Context) ([]models.Profile, error) {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return nil, err
	}
	conns, err := s.knownConnections(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.Load(ctx, nil)
	if err != nil {
		return nil, err
	}

	own := viewerRating(uid, profiles, s.identity.User())
	if own == nil {
		return nil, apperrors.NewValidation("run an analysis first to get connection suggestions")
	}

	exclude := map[string]bool{uid: true}
	for i := range conns {
		exclude[conns[i].Other(uid)] = true
	}

	out := make([]models.Profile, 0)
	for _, p := range profiles {
		if exclude[p.ID] || p.Rating == nil {
			continue
		}
		if math.Abs(*p.Rating-*own) <= suggestionRange {
			out = append(out, p)
		}
	}
	return out, nil
}

// viewerRating prefers the listed profile, which is refreshed more often
// than the one held by the session.
func viewerRating(uid string, profiles []models.Profile, self *models.Profile) *float64 {
	for i := range profiles {
		if profiles[i].ID == uid && profiles[i].Rating != nil {
			return profiles[i].Rating
		}
	}
	if self != nil {
		return self.Rating
	}
	return nil
}

// SendConnectionRequest asks toUserID to connect. A request to oneself or
// to a user already connected or pending is rejected.
func (s *Service) SendConnectionRequest(ctx context.Context, toUserID string) (*models.Connection, error) {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return nil, err
	}
	if toUserID == "" || toUserID == uid {
		return nil, apperrors.NewValidation("cannot connect with yourself")
	}

	existing, err := s.knownConnections(ctx)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		c := &existing[i]
		if c.Involves(toUserID) && c.Status != models.ConnectionRejected {
			return nil, apperrors.NewConflict("a connection with this user already exists")
		}
	}

	var created *models.Connection
	_, err = s.connections.Mutate(ctx,
		func(conns []models.Connection) []models.Connection {
			return append(conns, models.Connection{
				ID:        "pending-" + uuid.NewString(),
				User1ID:   uid,
				User2ID:   toUserID,
				Status:    models.ConnectionPending,
				CreatedAt: s.cache.Now(),
			})
		},
		func(ctx context.Context) (err error) {
			created, err = s.backend.CreateConnection(ctx, uid, toUserID)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Connection requested", zap.String("to_user_id", toUserID))
	return created, nil
}

// AcceptConnection accepts a pending request addressed to the user.
func (s *Service) AcceptConnection(ctx context.Context, id string) error {
	return s.answerConnection(ctx, id, models.ConnectionAccepted)
}

// RejectConnection declines a pending request addressed to the user.
func (s *Service) RejectConnection(ctx context.Context, id string) error {
	return s.answerConnection(ctx, id, models.ConnectionRejected)
}

func (s *Service) answerConnection(ctx context.Context, id string, status models.ConnectionStatus) error {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return err
	}
	c, err := s.findConnection(ctx, id)
	if err != nil {
		return err
	}
	if c.User2ID != uid {
		return apperrors.NewValidation("only the recipient can answer a connection request")
	}
	if c.Status != models.ConnectionPending {
		return apperrors.NewConflict("connection request was already answered")
	}

	_, err = s.connections.Mutate(ctx,
		func(conns []models.Connection) []models.Connection {
			for i := range conns {
				if conns[i].ID == id {
					conns[i].Status = status
				}
			}
			return conns
		},
		func(ctx context.Context) error {
			return s.backend.UpdateConnectionStatus(ctx, id, status)
		},
	)
	if err != nil {
		return err
	}
	logger.Log.Info("Connection answered", zap.String("connection_id", id), zap.String("status", string(status)))
	return nil
}

// RemoveConnection deletes a connection the user takes part in.
func (s *Service) RemoveConnection(ctx context.Context, id string) error {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return err
	}
	c, err := s.findConnection(ctx, id)
	if err != nil {
		return err
	}
	if !c.Involves(uid) {
		return apperrors.NewValidation("you are not part of this connection")
	}

	_, err = s.connections.Mutate(ctx,
		func(conns []models.Connection) []models.Connection {
			return slices.DeleteFunc(conns, func(c models.Connection) bool { return c.ID == id })
		},
		func(ctx context.Context) error {
			return s.backend.DeleteConnection(ctx, id)
		},
	)
	if err != nil {
		return err
	}
	logger.Log.Info("Connection removed", zap.String("connection_id", id))
	return nil
}

// knownConnections loads the connection list, falling back to the cached
// copy when the fetch fails. With nothing cached the fetch error is returned.
func (s *Service) knownConnections(ctx context.Context) ([]models.Connection, error) {
	conns, err := s.connections.Load(ctx, nil)
	if err == nil {
		return conns, nil
	}
	if cached, ok := s.connections.Peek(ctx); ok {
		logger.WarnWithFields("Checking against cached connections", err)
		return cached, nil
	}
	return nil, err
}

// findConnection looks id up in the cached list and refetches once when it
// is not there, since a request may have arrived after the list was cached.
func (s *Service) findConnection(ctx context.Context, id string) (*models.Connection, error) {
	if conns, ok := s.connections.Peek(ctx); ok {
		if c := connectionByID(conns, id); c != nil {
			return c, nil
		}
	}
	conns, err := s.connections.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if c := connectionByID(conns, id); c != nil {
		return c, nil
	}
	return nil, apperrors.NewNotFound("connection")
}

func connectionByID(conns []models.Connection, id string) *models.Connection {
	for i := range conns {
		if conns[i].ID == id {
			return &conns[i]
		}
	}
	return nil
}
