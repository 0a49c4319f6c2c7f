package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/devserver"
	"github.com/careloop/medportal/internal/portal"
)

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := devserver.New(devserver.Config{
		JWTSecret:              "test-secret",
		TokenTTL:               30 * time.Minute,
		GatewayPollsUntilFinal: 1,
	}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func newTestStore(t *testing.T, backend *httptest.Server, slot Slot) *Store {
	t.Helper()
	client := portal.NewClient(backend.URL+"/api", backend.Client(), zerolog.Nop())
	return NewStore(client, slot, zerolog.Nop())
}

func registerPatient(t *testing.T, s *Store, email string) *portal.User {
	t.Helper()
	user, err := s.Register(context.Background(), portal.RegisterRequest{
		Email:    email,
		Password: "hunter2!",
		FullName: "Pat Example",
		Role:     portal.RolePatient,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestStore_RegisterAndLoginActivate(t *testing.T) {
	backend := newTestBackend(t)
	slot := &MemorySlot{}
	s := newTestStore(t, backend, slot)

	user := registerPatient(t, s, "pat@example.test")
	snap := s.Snapshot()
	if snap.Phase != PhaseActive {
		t.Fatalf("phase = %s, want active", snap.Phase)
	}
	if snap.User == nil || snap.User.ID != user.ID {
		t.Error("snapshot does not carry the registered identity")
	}
	if tok, _ := slot.Load(); tok == "" {
		t.Error("credential was not persisted to the slot")
	}

	// A second store sharing the slot can pick the session up by login too.
	s2 := newTestStore(t, backend, &MemorySlot{})
	if _, err := s2.Login(context.Background(), "pat@example.test", "hunter2!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if s2.Snapshot().Phase != PhaseActive {
		t.Error("login did not activate the session")
	}
}

func TestStore_LoginFailureClears(t *testing.T) {
	backend := newTestBackend(t)
	s := newTestStore(t, backend, &MemorySlot{})
	registerPatient(t, s, "pat@example.test")

	_, err := s.Login(context.Background(), "pat@example.test", "wrong-password")
	if !errors.Is(err, portal.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if s.Snapshot().Phase != PhaseCleared {
		t.Error("failed login left the session active")
	}
	if s.Token() != "" {
		t.Error("failed login left a credential behind")
	}
}

func TestStore_RegisterDoctorRequiresProfile(t *testing.T) {
	backend := newTestBackend(t)
	s := newTestStore(t, backend, &MemorySlot{})

	_, err := s.Register(context.Background(), portal.RegisterRequest{
		Email:    "doc@example.test",
		Password: "hunter2!",
		FullName: "Doc Example",
		Role:     portal.RoleDoctor,
	})
	if !errors.Is(err, portal.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	// With the profile fields present the same registration goes through.
	_, err = s.Register(context.Background(), portal.RegisterRequest{
		Email:          "doc@example.test",
		Password:       "hunter2!",
		FullName:       "Doc Example",
		Role:           portal.RoleDoctor,
		Specialization: "Cardiology",
		Experience:     "12 years",
	})
	if err != nil {
		t.Fatalf("register doctor: %v", err)
	}
}

func TestStore_HydrateRestoresPersistedCredential(t *testing.T) {
	backend := newTestBackend(t)
	slot := &MemorySlot{}
	first := newTestStore(t, backend, slot)
	user := registerPatient(t, first, "pat@example.test")

	// Fresh process, same slot.
	second := newTestStore(t, backend, slot)
	if err := second.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	snap := second.Snapshot()
	if snap.Phase != PhaseActive {
		t.Fatalf("phase = %s, want active", snap.Phase)
	}
	if snap.User.ID != user.ID {
		t.Errorf("hydrated user %s, want %s", snap.User.ID, user.ID)
	}
}

func TestStore_HydrateEmptySlotSettlesCleared(t *testing.T) {
	backend := newTestBackend(t)
	s := newTestStore(t, backend, &MemorySlot{})

	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if s.Snapshot().Phase != PhaseCleared {
		t.Errorf("phase = %s, want cleared", s.Snapshot().Phase)
	}
}

func TestStore_HydrateDiscardsExpiredCredential(t *testing.T) {
	backend := newTestBackend(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "pat@example.test",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	slot := &MemorySlot{}
	if err := slot.Save(expired); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, backend, slot)

	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if s.Snapshot().Phase != PhaseCleared {
		t.Errorf("phase = %s, want cleared", s.Snapshot().Phase)
	}
	if tok, _ := slot.Load(); tok != "" {
		t.Error("expired credential left in slot")
	}
}

func TestStore_HydrateDiscardsRejectedCredential(t *testing.T) {
	backend := newTestBackend(t)

	slot := &MemorySlot{}
	_ = slot.Save("not-a-real-token")
	s := newTestStore(t, backend, slot)

	// The backend rejects it; hydrate settles cleared without an error.
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if s.Snapshot().Phase != PhaseCleared {
		t.Errorf("phase = %s, want cleared", s.Snapshot().Phase)
	}
	if tok, _ := slot.Load(); tok != "" {
		t.Error("rejected credential left in slot")
	}
}

func TestStore_BackendRejectionClearsMidSession(t *testing.T) {
	backend := newTestBackend(t)
	slot := &MemorySlot{}
	s := newTestStore(t, backend, slot)
	registerPatient(t, s, "pat@example.test")

	// Corrupt the credential behind the store's back; the next authenticated
	// call gets a 401 and the hook clears the session.
	s.mu.Lock()
	s.token = "garbage"
	s.mu.Unlock()

	client := portal.NewClient(backend.URL+"/api", backend.Client(), zerolog.Nop())
	client.SetTokenProvider(s.Token)
	client.SetUnauthorizedHook(s.HandleUnauthorized)

	if _, err := client.Me(context.Background()); !errors.Is(err, portal.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if s.Snapshot().Phase != PhaseCleared {
		t.Error("401 did not clear the session")
	}
}

func TestStore_LogoutIdempotent(t *testing.T) {
	backend := newTestBackend(t)
	slot := &MemorySlot{}
	s := newTestStore(t, backend, slot)
	registerPatient(t, s, "pat@example.test")

	s.Logout()
	s.Logout()

	if s.Snapshot().Phase != PhaseCleared {
		t.Error("logout did not clear the session")
	}
	if tok, _ := slot.Load(); tok != "" {
		t.Error("logout left a credential in the slot")
	}
	if s.Token() != "" {
		t.Error("logout left a live token")
	}
}

func TestFileSlot_RoundTrip(t *testing.T) {
	path := t.TempDir() + "/credential"
	slot := NewFileSlot(path)

	if tok, err := slot.Load(); err != nil || tok != "" {
		t.Fatalf("fresh slot: tok=%q err=%v", tok, err)
	}
	if err := slot.Save("tok-abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tok, err := slot.Load(); err != nil || tok != "tok-abc" {
		t.Fatalf("load: tok=%q err=%v", tok, err)
	}
	if err := slot.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := slot.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if tok, _ := slot.Load(); tok != "" {
		t.Errorf("cleared slot returned %q", tok)
	}
}
