package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/portal"
)

// fakeMessagesClient scripts ListMessages responses per call and records
// whatever was sent.
type fakeMessagesClient struct {
	mu      sync.Mutex
	batches [][]portal.ChatMessage
	errs    []error
	calls   int
	sent    []portal.SendMessageRequest
}

func (f *fakeMessagesClient) ListMessages(_ context.Context, _ string) ([]portal.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	return f.batches[len(f.batches)-1], nil
}

func (f *fakeMessagesClient) SendMessage(_ context.Context, req portal.SendMessageRequest) (*portal.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return &portal.ChatMessage{ID: "m1", Message: req.Message}, nil
}

func TestSyncer_RunStopsOnCancelAndSwallowsErrors(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeMessagesClient{
		batches: [][]portal.ChatMessage{
			{msg("a", base)},
			nil, // consumed by the error slot below
			{msg("a", base), msg("b", base.Add(time.Second))},
		},
		errs: []error{nil, errors.New("backend hiccup"), nil},
	}

	var mu sync.Mutex
	var updates [][]portal.ChatMessage
	s := NewSyncer(client, "u2", zerolog.Nop(),
		WithInterval(10*time.Millisecond),
		WithOnUpdate(func(msgs []portal.ChatMessage) {
			mu.Lock()
			updates = append(updates, msgs)
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(updates)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for two update callbacks")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancellation, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates[0]) != 1 || len(updates[1]) != 2 {
		t.Errorf("update sizes = %d, %d; want 1, 2", len(updates[0]), len(updates[1]))
	}
	if got := s.Messages(); len(got) != 2 {
		t.Errorf("final log has %d messages, want 2", len(got))
	}
}

func TestSyncer_NoCallbackWhenNothingNew(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeMessagesClient{batches: [][]portal.ChatMessage{{msg("a", base)}}}

	var mu sync.Mutex
	calls := 0
	s := NewSyncer(client, "u2", zerolog.Nop(),
		WithInterval(5*time.Millisecond),
		WithOnUpdate(func([]portal.ChatMessage) {
			mu.Lock()
			calls++
			mu.Unlock()
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	// The same batch is served on every tick; only the first merge adds.
	if calls != 1 {
		t.Errorf("onUpdate fired %d times, want 1", calls)
	}
}

func TestSyncer_SendBlankIsNoOp(t *testing.T) {
	client := &fakeMessagesClient{}
	s := NewSyncer(client, "u2", zerolog.Nop())

	sent, err := s.Send(context.Background(), "   \n\t ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != nil {
		t.Errorf("blank send returned a message: %+v", sent)
	}
	if len(client.sent) != 0 {
		t.Errorf("blank send reached the client: %+v", client.sent)
	}
}

func TestSyncer_SendTrimsAndDefaultsType(t *testing.T) {
	client := &fakeMessagesClient{}
	s := NewSyncer(client, "u2", zerolog.Nop())

	if _, err := s.Send(context.Background(), "  hello there  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(client.sent))
	}
	req := client.sent[0]
	if req.Message != "hello there" {
		t.Errorf("message = %q, want trimmed body", req.Message)
	}
	if req.MessageType != "text" {
		t.Errorf("message_type = %q, want text", req.MessageType)
	}
	if req.ReceiverID != "u2" {
		t.Errorf("receiver_id = %q, want u2", req.ReceiverID)
	}
}
