// Package model holds the wire types shared by the REST client, the presence
// channel and the sync engine.
package model

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyMessage is returned when a draft carries neither text nor an image.
var ErrEmptyMessage = errors.New("message must contain text or an image")

// User is a registered account, either the authenticated self or a contact.
type User struct {
	ID         string `json:"_id"`
	Email      string `json:"email,omitempty"`
	FullName   string `json:"fullName"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// DisplayName falls back to the id for placeholder contacts.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.ID
}

// Message is the canonical server representation of a one-to-one message.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PartnerOf returns the other participant from selfID's point of view.
func (m Message) PartnerOf(selfID string) string {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Draft is a locally composed message before the server assigns id and timestamp.
type Draft struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Validate rejects drafts with neither text nor image.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Text) == "" && d.Image == "" {
		return ErrEmptyMessage
	}
	return nil
}

// AuthMode selects the credential-issuing endpoint.
type AuthMode string

const (
	ModeLogin  AuthMode = "login"
	ModeSignup AuthMode = "signup"
)

// ParseAuthMode validates a user-supplied mode string.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case ModeLogin, ModeSignup:
		return AuthMode(s), nil
	}
	return "", errors.New("auth mode must be login or signup")
}

// Credentials is the login/signup request body. Signup also sends FullName and Bio.
type Credentials struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Bio      string `json:"bio,omitempty"`
}

// ProfileUpdate carries the self-record fields to rewrite; empty fields are omitted.
type ProfileUpdate struct {
	FullName   string `json:"fullName,omitempty"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FullName == "" && p.Bio == "" && p.ProfilePic == ""
}
