package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/matheus3301/relay/internal/model"
	"github.com/pkg/errors"
)

// ErrNotVerified is returned by CheckAuth when the server answers without
// confirming the credential.
var ErrNotVerified = errors.New("credential not verified")

// AuthResult is the outcome of a login or signup.
type AuthResult struct {
	Token   string
	User    model.User
	Message string
}

// Roster is the contact list together with the server's unseen counters.
type Roster struct {
	Users  []model.User
	Unseen map[string]int
}

// Login issues a credential through POST /auth/{mode}. No authorization is attached.
func (c *Client) Login(ctx context.Context, mode model.AuthMode, creds model.Credentials) (*AuthResult, error) {
	var resp struct {
		UserData model.User `json:"userData"`
		Token    string     `json:"token"`
		Message  string     `json:"message"`
	}
	if err := c.call(ctx, "auth."+string(mode), http.MethodPost, "/auth/"+string(mode), false, creds, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.UserData.ID == "" {
		return nil, errors.New("auth response missing token or user")
	}
	return &AuthResult{Token: resp.Token, User: resp.UserData, Message: resp.Message}, nil
}

// CheckAuth verifies the current credential via GET /auth/check and returns the self-record.
func (c *Client) CheckAuth(ctx context.Context) (*model.User, error) {
	var resp struct {
		User     model.User `json:"user"`
		Verified *bool      `json:"verified"`
	}
	if err := c.call(ctx, "auth.check", http.MethodGet, "/auth/check", true, nil, &resp); err != nil {
		return nil, err
	}
	if (resp.Verified != nil && !*resp.Verified) || resp.User.ID == "" {
		return nil, ErrNotVerified
	}
	return &resp.User, nil
}

// UpdateProfile rewrites self-record fields via PUT /auth/update-profile.
func (c *Client) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.User, error) {
	var resp struct {
		User model.User `json:"user"`
	}
	if err := c.call(ctx, "auth.update_profile", http.MethodPut, "/auth/update-profile", true, update, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Contacts fetches the sidebar users and unseen counters via GET /messages/users.
func (c *Client) Contacts(ctx context.Context) (*Roster, error) {
	var resp struct {
		Users          []model.User   `json:"users"`
		UnseenMessages map[string]int `json:"unseenMessages"`
	}
	if err := c.call(ctx, "messages.users", http.MethodGet, "/messages/users", true, nil, &resp); err != nil {
		return nil, err
	}
	if resp.UnseenMessages == nil {
		resp.UnseenMessages = map[string]int{}
	}
	return &Roster{Users: resp.Users, Unseen: resp.UnseenMessages}, nil
}

// History fetches the conversation with contactID via GET /messages/{contactID}.
// The server marks returned inbound messages as seen.
func (c *Client) History(ctx context.Context, contactID string) ([]model.Message, error) {
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.call(ctx, "messages.history", http.MethodGet, "/messages/"+url.PathEscape(contactID), true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Send posts a draft via POST /messages/send/{contactID} and returns the canonical message.
// Empty drafts are rejected before any network call.
func (c *Client) Send(ctx context.Context, contactID string, draft model.Draft) (*model.Message, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	var resp struct {
		NewMessage model.Message `json:"newMessage"`
	}
	if err := c.call(ctx, "messages.send", http.MethodPost, "/messages/send/"+url.PathEscape(contactID), true, draft, &resp); err != nil {
		return nil, err
	}
	if resp.NewMessage.ID == "" {
		return nil, errors.New("send response missing message id")
	}
	return &resp.NewMessage, nil
}

// MarkSeen flags one message as seen via PUT /messages/mark/{messageID}.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	return c.call(ctx, "messages.mark", http.MethodPut, "/messages/mark/"+url.PathEscape(messageID), true, nil, nil)
}
