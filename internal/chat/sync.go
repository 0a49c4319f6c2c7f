// Package chat keeps a conversation view current by periodic full-window
// fetches merged into an ordered log. There is no push channel; the backend
// is polled and treated as the source of truth.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/portal"
)

const DefaultInterval = 3 * time.Second

// MessagesClient is the slice of the portal client the syncer needs.
type MessagesClient interface {
	ListMessages(ctx context.Context, otherUserID string) ([]portal.ChatMessage, error)
	SendMessage(ctx context.Context, req portal.SendMessageRequest) (*portal.ChatMessage, error)
}

// Syncer maintains the log for one conversation (the session owner and one
// other party). One Syncer runs per open conversation view.
type Syncer struct {
	client      MessagesClient
	otherUserID string
	interval    time.Duration
	log         *Log
	onUpdate    func([]portal.ChatMessage)
	logger      zerolog.Logger
}

func NewSyncer(client MessagesClient, otherUserID string, logger zerolog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		client:      client,
		otherUserID: otherUserID,
		interval:    DefaultInterval,
		log:         NewLog(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Syncer)

func WithInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithOnUpdate registers a callback invoked with the full ordered log
// whenever a refresh adds messages.
func WithOnUpdate(fn func([]portal.ChatMessage)) Option {
	return func(s *Syncer) { s.onUpdate = fn }
}

// Run fetches immediately and then once per interval until ctx is cancelled.
// A failed fetch is logged and retried on the next tick; it never stops the
// loop. Returns nil on cancellation, since teardown is the normal exit.
func (s *Syncer) Run(ctx context.Context) error {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Syncer) refresh(ctx context.Context) {
	batch, err := s.client.ListMessages(ctx, s.otherUserID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug().Err(err).
				Str("other_user_id", s.otherUserID).
				Msg("message fetch failed, will retry")
		}
		return
	}
	if added := s.log.Merge(batch); added > 0 && s.onUpdate != nil {
		s.onUpdate(s.log.Messages())
	}
}

// Send posts a message. The result is not merged locally; the next
// successful fetch confirms it, accepting a brief display latency instead of
// reconciling optimistic and server state. A blank body is a no-op.
func (s *Syncer) Send(ctx context.Context, body string) (*portal.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	return s.client.SendMessage(ctx, portal.SendMessageRequest{
		ReceiverID:  s.otherUserID,
		Message:     body,
		MessageType: "text",
	})
}

// Messages returns the current ordered conversation log.
func (s *Syncer) Messages() []portal.ChatMessage {
	return s.log.Messages()
}
