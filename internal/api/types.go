package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/notice"
)

type StatusRequest struct{}

type StatusResponse struct {
	Profile   string         `json:"profile"`
	State     string         `json:"state"`
	Self      *model.User    `json:"self,omitempty"`
	Connected bool           `json:"connected"`
	UptimeMs  int64          `json:"uptimeMs"`
	Selected  string         `json:"selected,omitempty"`
	Contacts  int            `json:"contacts"`
	Online    int            `json:"online"`
	Notice    *notice.Notice `json:"notice,omitempty"`
}

type LoginRequest struct {
	Mode        string            `json:"mode"`
	Credentials model.Credentials `json:"credentials"`
}

type RestoreRequest struct {
	Token string `json:"token"`
}

type SelfResponse struct {
	Self model.User `json:"self"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type UpdateProfileRequest struct {
	Update model.ProfileUpdate `json:"update"`
}

type ReconnectRequest struct{}

type ReconnectResponse struct {
	Connected bool `json:"connected"`
}

type ContactsRequest struct{}

// Contact is one sidebar entry.
type Contact struct {
	User   model.User `json:"user"`
	Unseen int        `json:"unseen"`
	Online bool       `json:"online"`
}

type ContactsResponse struct {
	Contacts []Contact `json:"contacts"`
	Selected string    `json:"selected,omitempty"`
}

// OpenConversationRequest selects a contact and loads its history. An empty
// ContactID reopens the last conversation.
type OpenConversationRequest struct {
	ContactID string `json:"contactId"`
}

type ListMessagesRequest struct{}

type MessagesResponse struct {
	ContactID string          `json:"contactId"`
	Messages  []model.Message `json:"messages"`
}

// SendMessageRequest posts a draft. An empty ContactID targets the open conversation.
type SendMessageRequest struct {
	ContactID string      `json:"contactId"`
	Draft     model.Draft `json:"draft"`
}

type SendMessageResponse struct {
	Message model.Message `json:"message"`
}

// WatchRequest filters the event stream by kind prefix; empty means everything.
type WatchRequest struct {
	Namespaces []string `json:"namespaces,omitempty"`
}

// Event is one bus event as seen by watchers.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
