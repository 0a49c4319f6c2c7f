package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/portal"
)

type Phase int

const (
	// PhaseLoading is the startup state before Hydrate has settled.
	PhaseLoading Phase = iota
	// PhaseCleared means no identity: never logged in, logged out, or the
	// credential was rejected.
	PhaseCleared
	// PhaseActive means a verified identity holds the session.
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseCleared:
		return "cleared"
	case PhaseActive:
		return "active"
	}
	return "unknown"
}

// Snapshot is a point-in-time view of the session handed to access checks.
type Snapshot struct {
	Phase Phase
	User  *portal.User
}

// Store owns the authenticated identity and its bearer credential. It is the
// only writer of the credential; the client reads it through Token and
// reports rejections through HandleUnauthorized.
type Store struct {
	mu    sync.RWMutex
	phase Phase
	user  *portal.User
	token string

	client *portal.Client
	slot   Slot
	log    zerolog.Logger
}

func NewStore(client *portal.Client, slot Slot, logger zerolog.Logger) *Store {
	s := &Store{
		phase:  PhaseLoading,
		client: client,
		slot:   slot,
		log:    logger,
	}
	client.SetTokenProvider(s.Token)
	client.SetUnauthorizedHook(s.HandleUnauthorized)
	return s
}

// Token implements portal.TokenProvider.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u *portal.User
	if s.user != nil {
		cp := *s.user
		u = &cp
	}
	return Snapshot{Phase: s.phase, User: u}
}

// Hydrate restores a persisted credential and verifies it against the
// backend. A missing, expired, or rejected credential settles the session to
// cleared without surfacing an error; only a broken slot is reported.
func (s *Store) Hydrate(ctx context.Context) error {
	token, err := s.slot.Load()
	if err != nil {
		s.clear()
		return err
	}
	if token == "" {
		s.clear()
		return nil
	}

	// A credential that is already past its expiry cannot verify; discard it
	// locally instead of spending a doomed round trip.
	if expired(token) {
		s.log.Debug().Msg("persisted credential expired, discarding")
		s.clear()
		return nil
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	user, err := s.client.Me(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("credential verification failed, discarding")
		s.clear()
		return nil
	}

	s.activate(token, user)
	return nil
}

func (s *Store) Login(ctx context.Context, email, password string) (*portal.User, error) {
	tok, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.clear()
		return nil, err
	}
	s.activate(tok.AccessToken, &tok.User)
	return &tok.User, nil
}

// Register provisions a new identity. Doctor accounts require specialization
// and experience; the check runs before any network call.
func (s *Store) Register(ctx context.Context, req portal.RegisterRequest) (*portal.User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	tok, err := s.client.Register(ctx, req)
	if err != nil {
		s.clear()
		return nil, err
	}
	s.activate(tok.AccessToken, &tok.User)
	return &tok.User, nil
}

// Logout clears credential and identity unconditionally. Idempotent.
func (s *Store) Logout() {
	s.clear()
}

// HandleUnauthorized is the client's 401 hook: a rejected credential during
// normal operation behaves exactly like Logout.
func (s *Store) HandleUnauthorized() {
	s.log.Debug().Msg("backend rejected credential, clearing session")
	s.clear()
}

func (s *Store) activate(token string, user *portal.User) {
	s.mu.Lock()
	s.phase = PhaseActive
	s.token = token
	s.user = user
	s.mu.Unlock()

	if err := s.slot.Save(token); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist credential")
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("session active")
}

func (s *Store) clear() {
	s.mu.Lock()
	s.phase = PhaseCleared
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.slot.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear credential slot")
	}
}

func validateRegistration(req portal.RegisterRequest) error {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return fmt.Errorf("%w: email and password are required", portal.ErrValidation)
	}
	if strings.TrimSpace(req.FullName) == "" {
		return fmt.Errorf("%w: full_name is required", portal.ErrValidation)
	}
	if req.Role == portal.RoleDoctor {
		if strings.TrimSpace(req.Specialization) == "" || strings.TrimSpace(req.Experience) == "" {
			return fmt.Errorf("%w: specialization and experience are required for doctors", portal.ErrValidation)
		}
	}
	return nil
}

// expired peeks at the token's exp claim without verifying the signature.
// Verification belongs to the backend; this only avoids a guaranteed 401.
func expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT we can read; let the backend decide.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
