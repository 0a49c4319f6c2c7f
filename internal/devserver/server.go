// Package devserver is an in-memory stand-in for the portal backend. The
// real backend is an external collaborator; this one exists so the client
// core can be run and tested without it. It implements the full REST surface
// the client consumes, including a simulated payment gateway.
package devserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/portal"
)

const defaultConsultationFee = 50.0

type Config struct {
	JWTSecret              string
	TokenTTL               time.Duration
	GatewayPollsUntilFinal int
}

type Server struct {
	store           *Store
	gw              *Gateway
	auth            *authenticator
	consultationFee float64
	log             zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Server {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Server{
		store:           NewStore(),
		gw:              NewGateway(cfg.GatewayPollsUntilFinal),
		auth:            &authenticator{secret: []byte(cfg.JWTSecret), ttl: ttl},
		consultationFee: defaultConsultationFee,
		log:             logger,
	}
}

// Gateway exposes the fake payment gateway so callers can script outcomes.
func (s *Server) Gateway() *Gateway { return s.gw }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/auth/me", s.requireAuth(s.handleMe))

		r.Get("/users/doctors", s.handleDoctors)

		r.Post("/appointments", s.requireAuth(s.handleCreateAppointment))
		r.Get("/appointments", s.requireAuth(s.handleListAppointments))
		r.Put("/appointments/{id}", s.requireAuth(s.handleUpdateAppointment))

		r.Post("/payments/create-checkout", s.requireAuth(s.handleCreateCheckout))
		r.Get("/payments/status/{session_id}", s.requireAuth(s.handlePaymentStatus))

		r.Post("/chat/messages", s.requireAuth(s.handleSendMessage))
		r.Get("/chat/messages", s.requireAuth(s.handleListMessages))

		r.Get("/dashboard/stats", s.requireAuth(s.handleStats))
	})

	return r
}

// Seed registers fake doctor accounts so a fresh dev server has someone to
// book. All seeded accounts share the given password.
func (s *Server) Seed(doctors int, password string) error {
	specialties := []string{
		"Dermatology", "Cardiology", "General Practice", "Orthopedics",
		"Endocrinology", "Neurology", "Pediatrics", "Psychiatry",
	}

	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	for i := 0; i < doctors; i++ {
		user := portal.User{
			ID:             uuid.NewString(),
			Email:          fmt.Sprintf("doctor%d@%s", i+1, "medportal.test"),
			FullName:       gofakeit.Name(),
			Role:           portal.RoleDoctor,
			Phone:          gofakeit.Phone(),
			Specialization: specialties[i%len(specialties)],
			Experience:     fmt.Sprintf("%d years", gofakeit.Number(2, 30)),
			IsActive:       true,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.CreateUser(user, hash); err != nil {
			return fmt.Errorf("seed doctor %d: %w", i+1, err)
		}
	}

	s.log.Info().Int("doctors", doctors).Msg("seeded dev server")
	return nil
}
