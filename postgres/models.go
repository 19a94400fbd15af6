package postgres

import (
	"time"

	"github.com/chatmate/chatmate/chat"
)

// A message represents a message document in the database. Exactly one of
// the content columns is populated.
type message struct {
	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	MessageText string    `bun:"message_text"`
	ImageURL    string    `bun:"image_url"`
	Latitude    *float64  `bun:"latitude"`
	Longitude   *float64  `bun:"longitude"`
	UserID      string    `bun:",notnull"`
	UserName    string    `bun:"user_name,notnull"`
	System      bool      `bun:",notnull,default:false"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

// A blob holds the bytes of an uploaded attachment.
type blob struct {
	Key         string    `bun:",pk"`
	ContentType string    `bun:"content_type"`
	Data        []byte    `bun:",notnull"`
	CreatedAt   time.Time `bun:",nullzero,default:now()"`
}

func newMessage(m chat.Message) *message {
	row := &message{
		UserID:    m.User.ID,
		UserName:  m.User.Name,
		System:    m.System,
		CreatedAt: m.CreatedAt,
	}
	switch c := m.Content.(type) {
	case chat.TextContent:
		row.MessageText = c.Text
	case chat.ImageContent:
		row.ImageURL = c.URL
	case chat.LocationContent:
		lat, lng := c.Latitude, c.Longitude
		row.Latitude = &lat
		row.Longitude = &lng
	}
	return row
}

func (m message) chatMessage() chat.Message {
	out := chat.Message{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		User:      chat.User{ID: m.UserID, Name: m.UserName},
		System:    m.System,
	}
	switch {
	case m.Latitude != nil && m.Longitude != nil:
		out.Content = chat.LocationContent{Latitude: *m.Latitude, Longitude: *m.Longitude}
	case m.ImageURL != "":
		out.Content = chat.ImageContent{URL: m.ImageURL}
	default:
		out.Content = chat.TextContent{Text: m.MessageText}
	}
	return out
}
