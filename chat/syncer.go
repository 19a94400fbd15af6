package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// A Feed is the remote, subscribe-able, ordered source of message documents.
// Subscribe delivers the full current message list on every change until the
// returned subscription is released. Publish writes a single new document and
// returns the assigned ID.
type Feed interface {
	Subscribe(ctx context.Context, deliver func(msgs []Message)) (Subscription, error)
	Publish(ctx context.Context, msg Message) (string, error)
}

// A Subscription is the handle for one live feed listener. After Unsubscribe
// returns, the deliver callback must never fire again.
type Subscription interface {
	Unsubscribe() error
}

// A Cache persists the last known good message list on the device under a
// single key. The snapshot is replaced wholesale, never merged.
type Cache interface {
	LoadSnapshot(ctx context.Context) ([]Message, error)
	StoreSnapshot(ctx context.Context, msgs []Message) error
}

// Connectivity reports whether the device can currently reach the feed.
type Connectivity interface {
	Connected() bool
	Changes() <-chan bool
}

// A Syncer maintains the single live view of the message list, sourced from
// the feed while connected and from the cached snapshot otherwise. It owns
// the one active subscription and mirrors every remote batch into the cache.
type Syncer struct {
	Feed   Feed
	Cache  Cache
	Logger *slog.Logger

	// Notify publishes each new list to the view. Lists arrive newest first.
	// Optional.
	Notify func(msgs []Message)

	// transitions serializes Start and Stop so teardown-then-setup is one
	// atomic step and concurrent transitions cannot leak a subscription.
	transitions sync.Mutex

	mu   sync.Mutex
	sub  Subscription
	msgs []Message
}

// Start transitions the syncer into live or cached mode. Any previous
// subscription is released first, so repeated calls never leak a listener.
//
// Connected, it opens a feed subscription: every delivered batch replaces the
// in-memory list, is written to the cache best-effort, and is published to
// the view. Disconnected, it reads the cached snapshot once and publishes
// that; an absent or unreadable snapshot degrades to an empty list.
func (s *Syncer) Start(ctx context.Context, connected bool) error {
	s.transitions.Lock()
	defer s.transitions.Unlock()
	s.release()

	if !connected {
		msgs, err := s.Cache.LoadSnapshot(ctx)
		if err != nil {
			s.Logger.Error("Could not load cached messages", "error", err.Error())
			msgs = nil
		}
		s.replace(msgs)
		return nil
	}

	sub, err := s.Feed.Subscribe(ctx, func(batch []Message) {
		s.mirror(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop releases the active subscription, if any. Safe to call repeatedly.
func (s *Syncer) Stop() {
	s.transitions.Lock()
	defer s.transitions.Unlock()
	s.release()
}

func (s *Syncer) release() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.Logger.Error("Could not release subscription", "error", err.Error())
	}
}

// Run drives Start from the connectivity monitor: the current value decides
// the initial mode, then every change triggers one transition. The
// subscription is released when ctx is cancelled or the monitor closes its
// channel.
func (s *Syncer) Run(ctx context.Context, conn Connectivity) error {
	if err := s.Start(ctx, conn.Connected()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case connected, ok := <-conn.Changes():
			if !ok {
				s.Stop()
				return nil
			}
			if err := s.Start(ctx, connected); err != nil {
				s.Logger.Error("Could not switch mode", "connected", connected, "error", err.Error())
			}
		}
	}
}

// Send forwards one composed message to the feed. It does not touch the
// local list; the message only becomes visible once the subscription
// delivers it back.
func (s *Syncer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if _, err := s.Feed.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Messages returns the currently published list, newest first.
func (s *Syncer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// mirror applies one feed batch: replace the in-memory list, write the
// snapshot, publish. A failed cache write is logged and does not roll back
// the published list.
func (s *Syncer) mirror(ctx context.Context, batch []Message) {
	msgs := s.replace(batch)
	if err := s.Cache.StoreSnapshot(ctx, msgs); err != nil {
		s.Logger.Error("Could not cache messages", "error", err.Error())
	}
}

func (s *Syncer) replace(batch []Message) []Message {
	msgs := make([]Message, len(batch))
	copy(msgs, batch)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})

	s.mu.Lock()
	s.msgs = msgs
	s.mu.Unlock()

	if s.Notify != nil {
		s.Notify(msgs)
	}
	return msgs
}
