// Package postgres provides the message feed and the attachment store in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chatmate/chatmate/chat"
)

// notifyChannel carries a NOTIFY per written message so live subscriptions
// re-query without polling.
const notifyChannel = "chatmate_messages"

// Postgres provides the message feed in PostgreSQL.
type Postgres struct {
	// Logger records subscription-side query failures. Defaults to
	// slog.Default.
	Logger *slog.Logger

	bun *bun.DB
}

// Connect connects to the database and pings the DB to ensure the connection
// is working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Publish inserts the message and notifies live subscriptions. The returned
// ID is assigned by the database.
func (pg *Postgres) Publish(ctx context.Context, msg chat.Message) (string, error) {
	m := newMessage(msg)
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	if err := pgdriver.Notify(ctx, pg.bun, notifyChannel, m.ID); err != nil {
		return "", fmt.Errorf("notify: %w", err)
	}
	return m.ID, nil
}

// Subscribe opens a LISTEN-backed subscription. The deliver callback receives
// the full message list, newest first, once on open and again after every
// notification, until the subscription is released.
func (pg *Postgres) Subscribe(ctx context.Context, deliver func(msgs []chat.Message)) (chat.Subscription, error) {
	ln := pgdriver.NewListener(pg.bun)
	if err := ln.Listen(ctx, notifyChannel); err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	sub := &subscription{ln: ln}
	go func() {
		sub.deliverCurrent(ctx, pg, deliver)
		for range ln.Channel() {
			sub.deliverCurrent(ctx, pg, deliver)
		}
	}()
	return sub, nil
}

func (pg *Postgres) listMessages(ctx context.Context) ([]chat.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.chatMessage()
	}
	return out, nil
}

func (pg *Postgres) logger() *slog.Logger {
	if pg.Logger != nil {
		return pg.Logger
	}
	return slog.Default()
}

// A subscription is one live LISTEN handle. A released subscription never
// invokes its callback again.
type subscription struct {
	ln *pgdriver.Listener

	mu     sync.Mutex
	closed bool
}

func (s *subscription) deliverCurrent(ctx context.Context, pg *Postgres, deliver func(msgs []chat.Message)) {
	msgs, err := pg.listMessages(ctx)
	if err != nil {
		pg.logger().Error("Could not list messages for subscription", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	deliver(msgs)
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.ln.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
