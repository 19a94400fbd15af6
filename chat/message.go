package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// A Message is a single entry in the conversation. Its payload is exactly one
// Content case; the feed assigns the ID on write and messages are never
// updated afterwards.
type Message struct {
	ID        string
	Content   Content
	CreatedAt time.Time
	User      User
	System    bool
}

// A User identifies the sender of a message.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Content is the payload of a message. Exactly one of the concrete types
// (TextContent, ImageContent, LocationContent) is set per message.
type Content interface {
	content()
}

// TextContent is a plain text body.
type TextContent struct {
	Text string
}

// ImageContent is a durable URL to a stored image.
type ImageContent struct {
	URL string
}

// LocationContent is a geographic position shared by the sender.
type LocationContent struct {
	Latitude  float64
	Longitude float64
}

func (TextContent) content()     {}
func (ImageContent) content()    {}
func (LocationContent) content() {}

// Validate reports whether the message satisfies the content invariants.
func (m Message) Validate() error {
	if m.Content == nil {
		return errors.New("message has no content")
	}
	if m.System {
		if _, ok := m.Content.(TextContent); !ok {
			return errors.New("system message must carry text")
		}
	}
	return nil
}

// The wire shape is the flat document the feed and cache persist. Only the
// field for the active content case is present.
type (
	wireMessage struct {
		ID        string        `json:"id,omitempty"`
		Text      string        `json:"text,omitempty"`
		Image     string        `json:"image,omitempty"`
		Location  *wireLocation `json:"location,omitempty"`
		CreatedAt wireTime      `json:"created_at"`
		User      User          `json:"user"`
		System    bool          `json:"system,omitempty"`
	}

	wireLocation struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
)

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		CreatedAt: wireTime{m.CreatedAt},
		User:      m.User,
		System:    m.System,
	}
	switch c := m.Content.(type) {
	case TextContent:
		w.Text = c.Text
	case ImageContent:
		w.Image = c.URL
	case LocationContent:
		w.Location = &wireLocation{Latitude: c.Latitude, Longitude: c.Longitude}
	case nil:
		return nil, errors.New("message has no content")
	default:
		return nil, fmt.Errorf("unknown content type %T", m.Content)
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.CreatedAt = w.CreatedAt.Time
	m.User = w.User
	m.System = w.System
	switch {
	case w.Location != nil:
		m.Content = LocationContent{Latitude: w.Location.Latitude, Longitude: w.Location.Longitude}
	case w.Image != "":
		m.Content = ImageContent{URL: w.Image}
	default:
		m.Content = TextContent{Text: w.Text}
	}
	return nil
}

// wireTime normalizes the timestamp representations backends deliver. Writes
// are RFC 3339; reads also accept epoch milliseconds, which some document
// stores use for server-assigned timestamps.
type wireTime struct {
	time.Time
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed
	return nil
}
