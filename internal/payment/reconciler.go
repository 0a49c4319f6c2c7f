// Package payment drives a checkout session to a terminal state. The
// gateway's confirmation is asynchronous relative to the checkout redirect,
// so the only way to learn the result is to poll its status endpoint.
package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/careloop/medportal/internal/portal"
)

const (
	DefaultInterval = 2 * time.Second
	// DefaultMaxAttempts bounds the poll loop at roughly five minutes; past
	// that the result is reported as unknown rather than polling forever.
	DefaultMaxAttempts = 150
)

// StatusClient is the slice of the portal client the reconciler needs.
type StatusClient interface {
	CheckoutStatus(ctx context.Context, sessionID string) (*portal.CheckoutStatus, error)
}

// Outcome is the result of a reconciliation run. Unknown is set when the
// attempt bound was exhausted before the gateway reported a terminal status.
type Outcome struct {
	Status   portal.PaymentStatus
	Unknown  bool
	Attempts int
}

// Reconciler polls one checkout session until it is terminal, cancelled, or
// out of attempts. Individual query failures are swallowed; the session's
// fate is decided by the gateway, never by a flaky poll.
type Reconciler struct {
	client      StatusClient
	sessionID   string
	interval    time.Duration
	maxAttempts int
	breaker     *gobreaker.CircuitBreaker
	log         zerolog.Logger
}

func NewReconciler(client StatusClient, sessionID string, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:      client,
		sessionID:   sessionID,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		log:         logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 4 * r.interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("payment gateway breaker state changed")
		},
	})
	return r
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxAttempts bounds the run; n <= 0 means unbounded.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) { r.maxAttempts = n }
}

// Run queries the gateway immediately and then once per interval until the
// session reaches a terminal status or the attempt bound is hit. Cancelling
// the context stops the loop with ctx's error and no further queries; the
// session itself is untouched.
func (r *Reconciler) Run(ctx context.Context) (Outcome, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++

		status, err := r.query(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Attempts: attempts}, ctx.Err()
			}
			r.log.Debug().Err(err).
				Str("session_id", r.sessionID).
				Int("attempt", attempts).
				Msg("checkout status query failed, will retry")
		} else if status.PaymentStatus.Terminal() {
			r.log.Info().
				Str("session_id", r.sessionID).
				Str("payment_status", string(status.PaymentStatus)).
				Int("attempts", attempts).
				Msg("checkout session resolved")
			return Outcome{Status: status.PaymentStatus, Attempts: attempts}, nil
		}

		if r.maxAttempts > 0 && attempts >= r.maxAttempts {
			r.log.Warn().
				Str("session_id", r.sessionID).
				Int("attempts", attempts).
				Msg("giving up on checkout session, status unknown")
			return Outcome{Unknown: true, Attempts: attempts}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempts}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// query goes through a circuit breaker so a down gateway is not hammered on
// every tick; an open circuit counts as a failed poll.
func (r *Reconciler) query(ctx context.Context) (*portal.CheckoutStatus, error) {
	res, err := r.breaker.Execute(func() (any, error) {
		return r.client.CheckoutStatus(ctx, r.sessionID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*portal.CheckoutStatus), nil
}
