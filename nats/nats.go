// Package nats provides the message feed over a NATS JetStream stream, plus
// a connectivity monitor derived from the connection state.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chatmate/chatmate/chat"
)

const (
	streamName = "CHATMATE"
	subject    = "chatmate.messages"
)

// NATS provides the message feed in a JetStream stream.
type NATS struct {
	// Logger records subscription-side decode failures. Defaults to
	// slog.Default.
	Logger *slog.Logger

	nc      *nats.Conn
	js      jetstream.JetStream
	monitor *Connectivity
}

// Connect connects to the NATS server and ensures the message stream exists.
// The connection keeps reconnecting on failure; the state is reported
// through the Connectivity monitor.
func Connect(ctx context.Context, url string) (*NATS, error) {
	monitor := newConnectivity()

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(*nats.Conn, error) {
			monitor.set(false)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			monitor.set(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if _, err := js.Stream(ctx, streamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        streamName,
			Description: "Stores chat messages",
			Subjects:    []string{subject},
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %q: %w", streamName, err)
		}
	}

	monitor.set(nc.IsConnected())
	return &NATS{
		nc:      nc,
		js:      js,
		monitor: monitor,
	}, nil
}

// Connectivity returns the monitor tracking this connection.
func (n *NATS) Connectivity() *Connectivity {
	return n.monitor
}

// Close closes the underlying connection.
func (n *NATS) Close() {
	n.nc.Close()
}

// Publish writes one message to the stream. The stream has no server-side ID
// generation, so an ID is assigned here before the write.
func (n *NATS) Publish(ctx context.Context, msg chat.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return "", fmt.Errorf("publish to %q: %w", subject, err)
	}
	return msg.ID, nil
}

// Subscribe replays the stream from the beginning and delivers the
// accumulated message list on every arrival, so the adapter always sees full
// batches.
func (n *NATS) Subscribe(ctx context.Context, deliver func(msgs []chat.Message)) (chat.Subscription, error) {
	cons, err := n.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	sub := &subscription{logger: n.logger()}
	cc, err := cons.Consume(sub.handler(deliver))
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	sub.cc = cc
	return sub, nil
}

func (n *NATS) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// A subscription is one live consumer. A released subscription never invokes
// its callback again.
type subscription struct {
	logger *slog.Logger
	cc     jetstream.ConsumeContext

	mu     sync.Mutex
	closed bool
	msgs   []chat.Message
}

func (s *subscription) handler(deliver func(msgs []chat.Message)) jetstream.MessageHandler {
	return func(jsMsg jetstream.Msg) {
		var msg chat.Message
		if err := json.Unmarshal(jsMsg.Data(), &msg); err != nil {
			s.logger.Error("Could not decode message", "subject", jsMsg.Subject(), "error", err.Error())
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.msgs = append(s.msgs, msg)
		batch := make([]chat.Message, len(s.msgs))
		copy(batch, s.msgs)
		deliver(batch)
	}
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cc.Stop()
	return nil
}
