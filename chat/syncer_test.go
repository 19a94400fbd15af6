package chat

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func TestSyncer_singleSubscription(t *testing.T) {
	tests := []struct {
		name       string
		calls      []bool // one Start per entry
		stopAfter  bool
		wantActive int
		wantOpened int
	}{
		{
			name:       "RepeatedLive",
			calls:      []bool{true, true, true},
			wantActive: 1,
			wantOpened: 3,
		},
		{
			name:       "LiveThenStop",
			calls:      []bool{true},
			stopAfter:  true,
			wantActive: 0,
			wantOpened: 1,
		},
		{
			name:       "CachedOnly",
			calls:      []bool{false, false},
			wantActive: 0,
			wantOpened: 0,
		},
		{
			name:       "Alternating",
			calls:      []bool{true, false, true, false},
			wantActive: 0,
			wantOpened: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := &testfeed{T: t}
			s := &Syncer{
				Feed:   feed,
				Cache:  &testcache{T: t},
				Logger: slogt.New(t),
			}
			for _, connected := range tt.calls {
				if err := s.Start(context.Background(), connected); err != nil {
					t.Fatal(err)
				}
			}
			if tt.stopAfter {
				s.Stop()
			}
			if got := feed.activeCount(); got != tt.wantActive {
				t.Errorf("Got %d active subscriptions, want %d", got, tt.wantActive)
			}
			if feed.opened != tt.wantOpened {
				t.Errorf("Got %d opened subscriptions, want %d", feed.opened, tt.wantOpened)
			}
		})
	}
}

func TestSyncer_modeSwitch(t *testing.T) {
	feed := &testfeed{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
	}

	// Connectivity transitions true, false, true.
	for _, connected := range []bool{true, false, true} {
		if err := s.Start(context.Background(), connected); err != nil {
			t.Fatal(err)
		}
	}

	if got := feed.activeCount(); got != 1 {
		t.Fatalf("Got %d active subscriptions, want 1", got)
	}
	want := []string{"open", "close", "open"}
	if diff := cmp.Diff(want, feed.events); diff != "" {
		t.Errorf("Subscription events mismatch (-want +got):\n%s", diff)
	}
	if !feed.subs[0].isClosed() {
		t.Error("First subscription was not released")
	}
	if feed.subs[1].isClosed() {
		t.Error("Second subscription should still be live")
	}
}

func TestSyncer_offlineFallback(t *testing.T) {
	cached := []Message{
		{
			ID:        "1",
			Content:   TextContent{Text: "hi"},
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			User:      User{ID: "testuser", Name: "Tester"},
		},
	}

	tests := []struct {
		name      string
		cache     *testcache
		wantMsgs  []Message
		wantLog   string
	}{
		{
			name:     "Snapshot",
			cache:    &testcache{snapshot: cached},
			wantMsgs: cached,
		},
		{
			name:     "Absent",
			cache:    &testcache{},
			wantMsgs: []Message{},
		},
		{
			name:     "Unreadable",
			cache:    &testcache{loadErr: errors.New("bad snapshot")},
			wantMsgs: []Message{},
			wantLog:  "Could not load cached messages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			feed := &testfeed{T: t}
			tt.cache.T = t
			s := &Syncer{
				Feed:   feed,
				Cache:  tt.cache,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
			}

			if err := s.Start(context.Background(), false); err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tt.wantMsgs, s.Messages()); diff != "" {
				t.Errorf("Messages mismatch (-want +got):\n%s", diff)
			}
			if feed.opened != 0 {
				t.Errorf("Got %d subscriptions, want none in cached mode", feed.opened)
			}
			if s := buf.String(); tt.wantLog != "" && !strings.Contains(s, tt.wantLog) {
				t.Errorf("Log does not contain %s", tt.wantLog)
			}
		})
	}
}

func TestSyncer_mirror(t *testing.T) {
	at := func(sec int) time.Time {
		return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
	}
	batch := []Message{
		{ID: "a", Content: TextContent{Text: "five"}, CreatedAt: at(5)},
		{ID: "b", Content: TextContent{Text: "three"}, CreatedAt: at(3)},
		{ID: "c", Content: TextContent{Text: "nine"}, CreatedAt: at(9)},
	}
	wantOrder := []string{"c", "a", "b"}

	feed := &testfeed{T: t}
	cache := &testcache{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  cache,
		Logger: slogt.New(t),
	}
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	feed.deliver(batch)

	gotOrder := func(msgs []Message) []string {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		return ids
	}
	if diff := cmp.Diff(wantOrder, gotOrder(s.Messages())); diff != "" {
		t.Errorf("Published order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantOrder, gotOrder(cache.lastStored())); diff != "" {
		t.Errorf("Cached order mismatch (-want +got):\n%s", diff)
	}

	// Mirroring the same batch again yields the same snapshot.
	before := cache.lastStored()
	feed.deliver(batch)
	if diff := cmp.Diff(before, cache.lastStored()); diff != "" {
		t.Errorf("Snapshot changed on identical batch (-want +got):\n%s", diff)
	}
	if cache.stores != 2 {
		t.Errorf("Got %d snapshot writes, want 2", cache.stores)
	}
}

func TestSyncer_cacheWriteFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	feed := &testfeed{T: t}
	cache := &testcache{T: t, storeErr: errors.New("disk full")}
	s := &Syncer{
		Feed:   feed,
		Cache:  cache,
		Logger: slog.New(slog.NewTextHandler(buf, nil)),
	}
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	batch := []Message{{ID: "1", Content: TextContent{Text: "hi"}, CreatedAt: time.Now()}}
	feed.deliver(batch)

	// The published list is authoritative even when the mirror write fails.
	if got := len(s.Messages()); got != 1 {
		t.Errorf("Got %d published messages, want 1", got)
	}
	if !strings.Contains(buf.String(), "Could not cache messages") {
		t.Error("Cache failure was not logged")
	}
}

func TestSyncer_sendDoesNotSelfUpdate(t *testing.T) {
	feed := &testfeed{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
	}
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	msg := Message{
		Content:   TextContent{Text: "hello"},
		CreatedAt: time.Now(),
		User:      User{ID: "u1", Name: "Tester"},
	}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if got := len(s.Messages()); got != 0 {
		t.Fatalf("Send updated the published list directly: got %d messages", got)
	}
	if got := len(feed.published); got != 1 {
		t.Fatalf("Got %d published messages on the feed, want 1", got)
	}

	// The list only updates once the subscription delivers the message back.
	feed.deliver(feed.published)
	if got := len(s.Messages()); got != 1 {
		t.Errorf("Got %d messages after feed delivery, want 1", got)
	}
}

func TestSyncer_sendInvalidMessage(t *testing.T) {
	feed := &testfeed{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
	}
	if err := s.Send(context.Background(), Message{}); err == nil {
		t.Fatal("Expected error for message without content")
	}
	if len(feed.published) != 0 {
		t.Error("Invalid message reached the feed")
	}
}

func TestSyncer_stopIdempotent(t *testing.T) {
	feed := &testfeed{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
	}
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()
	if got := feed.activeCount(); got != 0 {
		t.Errorf("Got %d active subscriptions, want 0", got)
	}
	if feed.subs[0].unsubscribes != 1 {
		t.Errorf("Got %d unsubscribe calls, want 1", feed.subs[0].unsubscribes)
	}
}

func TestSyncer_releasedSubscriptionStaysSilent(t *testing.T) {
	feed := &testfeed{T: t}
	s := &Syncer{
		Feed:   feed,
		Cache:  &testcache{T: t},
		Logger: slogt.New(t),
	}
	if err := s.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	sub := feed.subs[0]
	s.Stop()

	// A released handle must not push batches into the adapter; the fake
	// enforces the backend contract.
	sub.send([]Message{{ID: "late", Content: TextContent{Text: "late"}, CreatedAt: time.Now()}})
	if got := len(s.Messages()); got != 0 {
		t.Errorf("Released subscription delivered a batch: got %d messages", got)
	}
}

func TestSyncer_run(t *testing.T) {
	feed := &testfeed{T: t}
	cache := &testcache{T: t, snapshot: []Message{
		{ID: "cached", Content: TextContent{Text: "old"}, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}

	published := make(chan []Message, 16)
	s := &Syncer{
		Feed:   feed,
		Cache:  cache,
		Logger: slogt.New(t),
		Notify: func(msgs []Message) { published <- msgs },
	}

	conn := &testconn{changes: make(chan bool, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, conn)
	}()

	// Initial state is disconnected: the cached snapshot is published.
	first := waitPublish(t, published)
	if len(first) != 1 || first[0].ID != "cached" {
		t.Fatalf("Got initial publish %+v, want cached snapshot", first)
	}

	// Going online opens the one live subscription.
	conn.changes <- true
	sub := feed.waitSubscribe(t)
	sub.send([]Message{{ID: "live", Content: TextContent{Text: "new"}, CreatedAt: time.Now()}})
	second := waitPublish(t, published)
	if len(second) != 1 || second[0].ID != "live" {
		t.Fatalf("Got live publish %+v, want feed batch", second)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if got := feed.activeCount(); got != 0 {
		t.Errorf("Got %d active subscriptions after Run, want 0", got)
	}
}

func waitPublish(t *testing.T, ch chan []Message) []Message {
	t.Helper()
	select {
	case msgs := <-ch:
		return msgs
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for publish")
		return nil
	}
}

// testfeed is an in-memory Feed recording subscription lifecycle events.
type testfeed struct {
	T *testing.T

	mu         sync.Mutex
	opened     int
	events     []string
	subs       []*testsub
	published  []Message
	publishErr error
}

func (f *testfeed) Subscribe(_ context.Context, deliver func(msgs []Message)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &testsub{feed: f, deliverFn: deliver}
	f.opened++
	f.events = append(f.events, "open")
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *testfeed) Publish(_ context.Context, msg Message) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = "generated"
	f.published = append(f.published, msg)
	return msg.ID, nil
}

// deliver pushes a batch through the most recent live subscription.
func (f *testfeed) deliver(batch []Message) {
	f.mu.Lock()
	var live *testsub
	for _, sub := range f.subs {
		if !sub.closed {
			live = sub
		}
	}
	f.mu.Unlock()
	if live == nil {
		f.T.Fatal("deliver called with no live subscription")
	}
	live.send(batch)
}

func (f *testfeed) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if !sub.closed {
			n++
		}
	}
	return n
}

func (f *testfeed) waitSubscribe(t *testing.T) *testsub {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		f.mu.Lock()
		for _, sub := range f.subs {
			if !sub.closed {
				f.mu.Unlock()
				return sub
			}
		}
		f.mu.Unlock()
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for subscription")
		case <-time.After(time.Millisecond):
		}
	}
}

type testsub struct {
	feed      *testfeed
	deliverFn func(msgs []Message)

	mu           sync.Mutex
	closed       bool
	unsubscribes int
}

func (s *testsub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes++
	if s.closed {
		return nil
	}
	s.closed = true
	s.feed.mu.Lock()
	s.feed.events = append(s.feed.events, "close")
	s.feed.mu.Unlock()
	return nil
}

// send enforces the backend contract: a released subscription never invokes
// its callback again.
func (s *testsub) send(batch []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.deliverFn(batch)
}

func (s *testsub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// testcache is an in-memory Cache holding one snapshot.
type testcache struct {
	T *testing.T

	mu       sync.Mutex
	snapshot []Message
	stores   int
	loadErr  error
	storeErr error
}

func (c *testcache) LoadSnapshot(context.Context) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.snapshot, nil
}

func (c *testcache) StoreSnapshot(_ context.Context, msgs []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return c.storeErr
	}
	c.stores++
	c.snapshot = msgs
	return nil
}

func (c *testcache) lastStored() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

type testconn struct {
	connected bool
	changes   chan bool
}

func (c *testconn) Connected() bool      { return c.connected }
func (c *testconn) Changes() <-chan bool { return c.changes }
