package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/careloop/medportal/internal/portal"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

type account struct {
	portal.User
	passwordHash string
}

type transaction struct {
	SessionID     string
	AppointmentID string
	UserID        string
	Amount        float64
	Currency      string
	Status        portal.PaymentStatus
	CreatedAt     time.Time
}

// Store holds all backend state in memory. The real backend's persistence is
// out of scope; this store only needs to be a faithful source of truth for
// one process.
type Store struct {
	mu           sync.RWMutex
	usersByID    map[string]*account
	usersByEmail map[string]*account
	appointments map[string]*portal.Appointment
	transactions map[string]*transaction // keyed by checkout session id
	messages     []portal.ChatMessage
}

func NewStore() *Store {
	return &Store{
		usersByID:    make(map[string]*account),
		usersByEmail: make(map[string]*account),
		appointments: make(map[string]*portal.Appointment),
		transactions: make(map[string]*transaction),
	}
}

func (s *Store) CreateUser(u portal.User, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[u.Email]; exists {
		return ErrEmailTaken
	}
	acct := &account{User: u, passwordHash: passwordHash}
	s.usersByID[u.ID] = acct
	s.usersByEmail[u.Email] = acct
	return nil
}

func (s *Store) UserByEmail(email string) (portal.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.usersByEmail[email]
	if !ok {
		return portal.User{}, "", ErrUserNotFound
	}
	return acct.User, acct.passwordHash, nil
}

func (s *Store) UserByID(id string) (portal.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.usersByID[id]
	if !ok {
		return portal.User{}, ErrUserNotFound
	}
	return acct.User, nil
}

func (s *Store) Doctors() []portal.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []portal.User
	for _, acct := range s.usersByID {
		if acct.Role == portal.RoleDoctor {
			out = append(out, acct.User)
		}
	}
	return out
}

func (s *Store) AddAppointment(a portal.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.appointments[a.ID] = &cp
}

func (s *Store) AppointmentByID(id string) (portal.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return portal.Appointment{}, ErrAppointmentNotFound
	}
	return *a, nil
}

// AppointmentsFor applies role visibility: a patient sees their own rows, a
// doctor theirs, an admin everything.
func (s *Store) AppointmentsFor(u portal.User) []portal.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []portal.Appointment
	for _, a := range s.appointments {
		switch u.Role {
		case portal.RolePatient:
			if a.PatientID != u.ID {
				continue
			}
		case portal.RoleDoctor:
			if a.DoctorID != u.ID {
				continue
			}
		}
		out = append(out, *a)
	}
	return out
}

func (s *Store) SetAppointmentStatus(id string, status portal.AppointmentStatus) (portal.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return portal.Appointment{}, ErrAppointmentNotFound
	}
	a.Status = status
	return *a, nil
}

func (s *Store) AddTransaction(t transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.transactions[t.SessionID] = &cp
}

func (s *Store) TransactionBySession(sessionID string) (transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[sessionID]
	if !ok {
		return transaction{}, ErrTransactionNotFound
	}
	return *t, nil
}

func (s *Store) SetTransactionStatus(sessionID string, status portal.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[sessionID]; ok {
		t.Status = status
	}
}

// PendingTransactionFor reports whether the appointment has a non-terminal
// checkout session.
func (s *Store) PendingTransactionFor(appointmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.AppointmentID == appointmentID && !t.Status.Terminal() {
			return true
		}
	}
	return false
}

func (s *Store) AddMessage(m portal.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Conversation returns every message exchanged between the two users, in
// insertion order; the client orders by (created_at, id) itself.
func (s *Store) Conversation(userID, otherID string) []portal.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []portal.ChatMessage
	for _, m := range s.messages {
		if (m.SenderID == userID && m.ReceiverID == otherID) ||
			(m.SenderID == otherID && m.ReceiverID == userID) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) Stats(u portal.User) portal.DashboardStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := portal.DashboardStats{}
	switch u.Role {
	case portal.RolePatient:
		var total, upcoming int64
		for _, a := range s.appointments {
			if a.PatientID != u.ID {
				continue
			}
			total++
			if a.Status == portal.AppointmentScheduled {
				upcoming++
			}
		}
		stats["total_appointments"] = total
		stats["upcoming_appointments"] = upcoming
	case portal.RoleDoctor:
		var total int64
		patients := make(map[string]struct{})
		for _, a := range s.appointments {
			if a.DoctorID != u.ID {
				continue
			}
			total++
			patients[a.PatientID] = struct{}{}
		}
		stats["total_appointments"] = total
		stats["total_patients"] = int64(len(patients))
	case portal.RoleAdmin:
		var doctors, patients int64
		for _, acct := range s.usersByID {
			switch acct.Role {
			case portal.RoleDoctor:
				doctors++
			case portal.RolePatient:
				patients++
			}
		}
		stats["total_users"] = int64(len(s.usersByID))
		stats["total_doctors"] = doctors
		stats["total_patients"] = patients
		stats["total_appointments"] = int64(len(s.appointments))
	}
	return stats
}
