package devserver

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/careloop/medportal/internal/portal"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// Gateway simulates the external payment provider. A session stays pending
// for a configured number of status queries and then reports its scripted
// terminal status, mimicking the gateway's asynchronous confirmation.
type Gateway struct {
	mu              sync.Mutex
	pollsUntilFinal int
	sessions        map[string]*gatewaySession
}

type gatewaySession struct {
	id       string
	amount   int64 // minor units
	currency string
	final    portal.PaymentStatus
	polls    int
	metadata map[string]string
}

func NewGateway(pollsUntilFinal int) *Gateway {
	if pollsUntilFinal < 1 {
		pollsUntilFinal = 1
	}
	return &Gateway{
		pollsUntilFinal: pollsUntilFinal,
		sessions:        make(map[string]*gatewaySession),
	}
}

// CreateSession opens a checkout session. Sessions resolve to paid unless
// rescripted with ResolveTo.
func (g *Gateway) CreateSession(amount int64, currency string, metadata map[string]string) portal.CheckoutSession {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := "cs_" + uuid.NewString()
	g.sessions[id] = &gatewaySession{
		id:       id,
		amount:   amount,
		currency: currency,
		final:    portal.PaymentPaid,
		metadata: metadata,
	}
	return portal.CheckoutSession{
		SessionID:   id,
		CheckoutURL: "https://checkout.example.test/pay/" + id,
	}
}

// ResolveTo scripts the terminal status a session will eventually report.
func (g *Gateway) ResolveTo(sessionID string, status portal.PaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.final = status
	return nil
}

// Status reports the session's current state, counting the query toward the
// pending window.
func (g *Gateway) Status(sessionID string) (portal.CheckoutStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[sessionID]
	if !ok {
		return portal.CheckoutStatus{}, ErrSessionNotFound
	}

	sess.polls++
	status := portal.PaymentPending
	if sess.polls >= g.pollsUntilFinal {
		status = sess.final
	}
	return portal.CheckoutStatus{
		PaymentStatus: status,
		AmountTotal:   sess.amount,
		Currency:      sess.currency,
		Metadata:      sess.metadata,
	}, nil
}
