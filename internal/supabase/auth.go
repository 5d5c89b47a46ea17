package supabase

import (
	"context"
	"time"
)

// User is the authenticated account as GoTrue reports it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a token pair returned by sign in, sign up and refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	// ExpiresAt is a unix timestamp in seconds.
	ExpiresAt int64 `json:"expires_at"`
	User      User  `json:"user"`
}

// Expiry returns when the access token expires, or the zero time if the
// response carried no expiry.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return time.Time{}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	resp, err := c.request(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(credentialsRequest{Email: email, Password: password}).
		SetResult(&session).
		Post("/auth/v1/token")
	if err := check("sign in", resp, err); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignUp creates an account. When email confirmation is enabled the
// returned session has no access token.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	resp, err := c.request(ctx).
		SetBody(credentialsRequest{Email: email, Password: password}).
		SetResult(&session).
		Post("/auth/v1/signup")
	if err := check("sign up", resp, err); err != nil {
		return nil, err
	}
	if session.User.ID == "" {
		// Without autoconfirm GoTrue returns the bare user object.
		var user User
		if err := json.Unmarshal(resp.Body(), &user); err == nil {
			session.User = user
		}
	}
	return &session, nil
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	resp, err := c.request(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		SetResult(&session).
		Post("/auth/v1/token")
	if err := check("refresh session", resp, err); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUser returns the account the current access token belongs to.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	resp, err := c.request(ctx).
		SetResult(&user).
		Get("/auth/v1/user")
	if err := check("get user", resp, err); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the current access token.
func (c *Client) SignOut(ctx context.Context) error {
	resp, err := c.request(ctx).Post("/auth/v1/logout")
	return check("sign out", resp, err)
}
