// Package appointment implements the booking lifecycle: scheduled until paid
// or resolved by the doctor, with payment handled through an external
// checkout session reconciled asynchronously.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/payment"
	"github.com/careloop/medportal/internal/portal"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentInProgress = fmt.Errorf("%w: appointment already has an active payment session", portal.ErrConflict)
	ErrNotPayable        = fmt.Errorf("%w: only scheduled appointments can be paid", portal.ErrConflict)
)

// Legal forward edges. Terminal statuses have no entry.
var transitions = map[portal.AppointmentStatus][]portal.AppointmentStatus{
	portal.AppointmentScheduled: {portal.AppointmentPaid, portal.AppointmentCompleted, portal.AppointmentCancelled},
	portal.AppointmentPaid:      {portal.AppointmentCompleted, portal.AppointmentCancelled},
}

func CanTransition(from, to portal.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Workflow drives appointment state through the backend and tracks which
// appointments have a live checkout session so a second payment attempt
// cannot start while one is pending.
type Workflow struct {
	client *portal.Client
	log    zerolog.Logger

	pollInterval time.Duration
	maxAttempts  int

	mu     sync.Mutex
	active map[string]string // appointment id -> pending checkout session id
}

func NewWorkflow(client *portal.Client, logger zerolog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		client:       client,
		log:          logger,
		pollInterval: payment.DefaultInterval,
		maxAttempts:  payment.DefaultMaxAttempts,
		active:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type Option func(*Workflow)

// WithPaymentPolling overrides the reconciler cadence and bound.
func WithPaymentPolling(interval time.Duration, maxAttempts int) Option {
	return func(w *Workflow) {
		if interval > 0 {
			w.pollInterval = interval
		}
		w.maxAttempts = maxAttempts
	}
}

// Book creates an appointment in the scheduled state. The date picker bounds
// selection at the call site, but a past timestamp is still rejected here.
func (w *Workflow) Book(ctx context.Context, doctorID string, when time.Time, durationMinutes int, notes string) (*portal.Appointment, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", portal.ErrValidation)
	}
	if when.IsZero() {
		return nil, fmt.Errorf("%w: appointment_date is required", portal.ErrValidation)
	}
	if when.Before(time.Now()) {
		return nil, fmt.Errorf("%w: appointment_date must be in the future", portal.ErrValidation)
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", portal.ErrValidation)
	}

	appt, err := w.client.CreateAppointment(ctx, portal.BookAppointmentRequest{
		DoctorID:        doctorID,
		AppointmentDate: when.UTC(),
		DurationMinutes: durationMinutes,
		Notes:           notes,
	})
	if err != nil {
		return nil, err
	}

	w.log.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", doctorID).
		Time("at", appt.AppointmentDate).
		Msg("appointment booked")
	return appt, nil
}

// InitiatePayment opens a checkout session for a scheduled appointment. At
// most one non-terminal session may exist per appointment.
func (w *Workflow) InitiatePayment(ctx context.Context, appt *portal.Appointment) (*portal.CheckoutSession, error) {
	if appt.Status != portal.AppointmentScheduled {
		return nil, ErrNotPayable
	}

	w.mu.Lock()
	if _, exists := w.active[appt.ID]; exists {
		w.mu.Unlock()
		return nil, ErrPaymentInProgress
	}
	w.mu.Unlock()

	cs, err := w.client.CreateCheckout(ctx, appt.ID)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.active[appt.ID] = cs.SessionID
	w.mu.Unlock()

	w.log.Info().
		Str("appointment_id", appt.ID).
		Str("session_id", cs.SessionID).
		Msg("checkout session opened")
	return cs, nil
}

// WatchPayment runs a reconciler for the session opened by InitiatePayment
// and applies the result through OnPaymentResolved. It blocks until the
// session is terminal, the attempt bound is hit, or ctx is cancelled.
// Callers scope ctx to the observing view so teardown stops the polling.
func (w *Workflow) WatchPayment(ctx context.Context, appointmentID, sessionID string) (payment.Outcome, *portal.Appointment, error) {
	rec := payment.NewReconciler(w.client, sessionID, w.log,
		payment.WithInterval(w.pollInterval),
		payment.WithMaxAttempts(w.maxAttempts),
	)

	outcome, err := rec.Run(ctx)
	if err != nil {
		// Cancelled: the session keeps whatever fate the gateway gives it,
		// and the appointment stays payable.
		return outcome, nil, err
	}

	appt, err := w.OnPaymentResolved(ctx, appointmentID, outcome)
	return outcome, appt, err
}

// OnPaymentResolved applies a reconciliation result. A paid session moves the
// appointment scheduled -> paid; failed, expired, or unknown leaves it
// scheduled so payment can be retried; a lost payment attempt must never
// cancel a booking.
func (w *Workflow) OnPaymentResolved(ctx context.Context, appointmentID string, outcome payment.Outcome) (*portal.Appointment, error) {
	w.mu.Lock()
	delete(w.active, appointmentID)
	w.mu.Unlock()

	if outcome.Unknown || outcome.Status != portal.PaymentPaid {
		w.log.Info().
			Str("appointment_id", appointmentID).
			Str("payment_status", string(outcome.Status)).
			Bool("unknown", outcome.Unknown).
			Msg("payment not completed, appointment stays scheduled")
		return nil, nil
	}

	appt, err := w.client.UpdateAppointmentStatus(ctx, appointmentID, portal.AppointmentPaid)
	if err != nil {
		return nil, fmt.Errorf("mark appointment paid: %w", err)
	}
	w.log.Info().Str("appointment_id", appt.ID).Msg("appointment paid")
	return appt, nil
}

// ActiveSession reports the pending checkout session for an appointment, if
// one is being reconciled.
func (w *Workflow) ActiveSession(appointmentID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.active[appointmentID]
	return id, ok
}

// SetStatus resolves an appointment to completed or cancelled. Only the
// assigned doctor or an admin may do so, and only from scheduled or paid.
func (w *Workflow) SetStatus(ctx context.Context, actor *portal.User, appt *portal.Appointment, target portal.AppointmentStatus) (*portal.Appointment, error) {
	if actor == nil {
		return nil, portal.ErrAuth
	}
	if !canResolve(actor, appt) {
		return nil, fmt.Errorf("%w: only the assigned doctor or an admin may change appointment status", portal.ErrForbidden)
	}
	if target != portal.AppointmentCompleted && target != portal.AppointmentCancelled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
	}
	if !CanTransition(appt.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
	}

	updated, err := w.client.UpdateAppointmentStatus(ctx, appt.ID, target)
	if err != nil {
		return nil, err
	}
	w.log.Info().
		Str("appointment_id", updated.ID).
		Str("status", string(updated.Status)).
		Msg("appointment status updated")
	return updated, nil
}

func canResolve(actor *portal.User, appt *portal.Appointment) bool {
	if actor.Role == portal.RoleAdmin {
		return true
	}
	return actor.Role == portal.RoleDoctor && actor.ID == appt.DoctorID
}
