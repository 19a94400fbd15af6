package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// An ObjectStore persists binary attachments. Put stores the bytes under the
// given key and returns an opaque reference; URL resolves that reference to a
// durable retrieval URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	URL(ctx context.Context, ref string) (string, error)
}

// A LocationProvider reports the device position after the user grants
// permission.
type LocationProvider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (Position, bool, error)
}

// A Position is a geographic coordinate pair.
type Position struct {
	Latitude  float64
	Longitude float64
}

// A MediaPicker hands over an image the user chose from the library or
// captured with the camera. Implementations handle their own permission
// prompts and report denial as an error.
type MediaPicker interface {
	PickImage(ctx context.Context) (Image, error)
	TakePhoto(ctx context.Context) (Image, error)
}

// An Image is a locally picked attachment before upload.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// A Sender forwards one composed message to the feed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	// ErrPermissionDenied is returned when the user declines a device
	// permission prompt.
	ErrPermissionDenied = errors.New("permissions have not been granted")

	// ErrNoPosition is returned when the device cannot produce a location
	// fix.
	ErrNoPosition = errors.New("could not determine current position")
)

// A Composer turns user actions into canonical messages. Each path produces
// exactly one message and hands it to the sender exactly once; on any
// failure nothing is sent.
type Composer struct {
	Session  Session
	Sender   Sender
	Objects  ObjectStore
	Location LocationProvider
	Picker   MediaPicker

	// Now overrides the timestamp source. Defaults to time.Now.
	Now func() time.Time
}

// An Action is one entry of the attachment menu.
type Action int

const (
	ActionPickImage Action = iota
	ActionTakePhoto
	ActionSendLocation
	ActionCancel
)

// Dispatch runs the selected attachment action. Cancel is a no-op.
func (c *Composer) Dispatch(ctx context.Context, action Action) error {
	switch action {
	case ActionPickImage:
		img, err := c.Picker.PickImage(ctx)
		if err != nil {
			return fmt.Errorf("pick image: %w", err)
		}
		return c.SendImage(ctx, img)
	case ActionTakePhoto:
		img, err := c.Picker.TakePhoto(ctx)
		if err != nil {
			return fmt.Errorf("take photo: %w", err)
		}
		return c.SendImage(ctx, img)
	case ActionSendLocation:
		return c.SendLocation(ctx)
	case ActionCancel:
		return nil
	default:
		return fmt.Errorf("unknown action %d", action)
	}
}

// SendText sends a plain text message.
func (c *Composer) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}
	return c.send(ctx, TextContent{Text: text}, false)
}

// SendSystem sends a system notice, such as a user entering the chat.
func (c *Composer) SendSystem(ctx context.Context, text string) error {
	return c.send(ctx, TextContent{Text: text}, true)
}

// SendImage uploads the picked image and sends a message carrying its
// durable URL. An upload or resolve failure aborts the send.
func (c *Composer) SendImage(ctx context.Context, img Image) error {
	ref, err := c.Objects.Put(ctx, c.storageKey(img.Name), img.Data, img.ContentType)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	url, err := c.Objects.URL(ctx, ref)
	if err != nil {
		return fmt.Errorf("resolve image url: %w", err)
	}
	return c.send(ctx, ImageContent{URL: url}, false)
}

// SendLocation asks for permission, reads the current position and sends a
// location-only message. Denial or a missing fix aborts the send.
func (c *Composer) SendLocation(ctx context.Context) error {
	granted, err := c.Location.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request location permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}
	pos, ok, err := c.Location.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("current position: %w", err)
	}
	if !ok {
		return ErrNoPosition
	}
	return c.send(ctx, LocationContent{Latitude: pos.Latitude, Longitude: pos.Longitude}, false)
}

func (c *Composer) send(ctx context.Context, content Content, system bool) error {
	return c.Sender.Send(ctx, Message{
		Content:   content,
		CreatedAt: c.now(),
		User:      c.Session.User(),
		System:    system,
	})
}

// storageKey derives a globally unique object key from the session, the
// current time and the final segment of the original file name.
func (c *Composer) storageKey(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return fmt.Sprintf("%s-%d-%s", c.Session.UserID, c.now().UnixMilli(), name)
}

func (c *Composer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
