package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// An Identity signs a visitor in and hands back a stable user ID for the
// session.
type Identity interface {
	SignInAnonymously(ctx context.Context) (string, error)
}

// A Session is the ephemeral per-visit identity. It is created once at
// sign-in, read-only afterwards, and never persisted across restarts.
type Session struct {
	UserID string
	Name   string
	Color  string
}

// User returns the sender identity stamped onto outgoing messages.
func (s Session) User() User {
	return User{ID: s.UserID, Name: s.Name}
}

// Palette lists the background colors the start screen offers.
var Palette = []string{"#090c08", "#474056", "#8a95a5", "#b9c6ae"}

// NewSession signs in through the identity provider and binds the chosen
// display name and color to the returned user ID.
func NewSession(ctx context.Context, idp Identity, name, color string) (Session, error) {
	id, err := idp.SignInAnonymously(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("sign in: %w", err)
	}
	return Session{
		UserID: id,
		Name:   name,
		Color:  color,
	}, nil
}

// Anonymous issues a fresh random identity on every sign-in.
type Anonymous struct{}

func (Anonymous) SignInAnonymously(context.Context) (string, error) {
	return uuid.NewString(), nil
}
