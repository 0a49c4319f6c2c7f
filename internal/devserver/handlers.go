package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/careloop/medportal/internal/portal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the backend's {"detail": ...} error envelope.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req portal.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.FullName) == "" {
		writeError(w, http.StatusBadRequest, "email, password and full_name are required")
		return
	}
	role := req.Role
	if role == "" {
		role = portal.RolePatient
	}
	if role != portal.RolePatient && role != portal.RoleDoctor && role != portal.RoleAdmin {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}

	user := portal.User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		FullName:       req.FullName,
		Role:           role,
		Phone:          req.Phone,
		Specialization: req.Specialization,
		Experience:     req.Experience,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateUser(user, hash); err != nil {
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	token, err := s.auth.issue(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, portal.Token{AccessToken: token, TokenType: "bearer", User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}

	user, hash, err := s.store.UserByEmail(req.Email)
	if err != nil || !checkPassword(req.Password, hash) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := s.auth.issue(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, portal.Token{AccessToken: token, TokenType: "bearer", User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r.Context()))
}

func (s *Server) handleDoctors(w http.ResponseWriter, r *http.Request) {
	doctors := s.store.Doctors()
	if doctors == nil {
		doctors = []portal.User{}
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if user.Role != portal.RolePatient {
		writeError(w, http.StatusForbidden, "Only patients can book appointments")
		return
	}

	var req portal.BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}
	if req.DoctorID == "" {
		writeError(w, http.StatusBadRequest, "doctor_id is required")
		return
	}
	if _, err := s.store.UserByID(req.DoctorID); err != nil {
		writeError(w, http.StatusNotFound, "Doctor not found")
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 30
	}

	appt := portal.Appointment{
		ID:              uuid.NewString(),
		PatientID:       user.ID,
		DoctorID:        req.DoctorID,
		AppointmentDate: req.AppointmentDate,
		DurationMinutes: req.DurationMinutes,
		Status:          portal.AppointmentScheduled,
		Notes:           req.Notes,
		ConsultationFee: s.consultationFee,
		CreatedAt:       time.Now().UTC(),
	}
	s.store.AddAppointment(appt)
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	appts := s.store.AppointmentsFor(currentUser(r.Context()))
	if appts == nil {
		appts = []portal.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (s *Server) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	id := chi.URLParam(r, "id")
	status := portal.AppointmentStatus(r.URL.Query().Get("status"))

	switch status {
	case portal.AppointmentScheduled, portal.AppointmentPaid, portal.AppointmentCompleted, portal.AppointmentCancelled:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	appt, err := s.store.AppointmentByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if user.Role == portal.RolePatient && appt.PatientID != user.ID {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if user.Role == portal.RoleDoctor && appt.DoctorID != user.ID {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	updated, err := s.store.SetAppointmentStatus(id, status)
	if err != nil {
		writeError(w, http.StatusNotFound, "Appointment not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	appointmentID := r.URL.Query().Get("appointment_id")

	appt, err := s.store.AppointmentByID(appointmentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if user.Role == portal.RolePatient && appt.PatientID != user.ID {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	if s.store.PendingTransactionFor(appointmentID) {
		writeError(w, http.StatusConflict, "Appointment already has a pending payment session")
		return
	}

	amountMinor := int64(appt.ConsultationFee * 100)
	session := s.gw.CreateSession(amountMinor, "usd", map[string]string{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
	})

	s.store.AddTransaction(transaction{
		SessionID:     session.SessionID,
		AppointmentID: appt.ID,
		UserID:        user.ID,
		Amount:        appt.ConsultationFee,
		Currency:      "usd",
		Status:        portal.PaymentPending,
		CreatedAt:     time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	status, err := s.gw.Status(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Checkout session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.store.SetTransactionStatus(sessionID, status.PaymentStatus)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	var req portal.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse JSON")
		return
	}
	if req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "receiver_id is required")
		return
	}
	if req.MessageType == "" {
		req.MessageType = "text"
	}

	msg := portal.ChatMessage{
		ID:            uuid.NewString(),
		SenderID:      user.ID,
		ReceiverID:    req.ReceiverID,
		AppointmentID: req.AppointmentID,
		Message:       req.Message,
		MessageType:   req.MessageType,
		CreatedAt:     time.Now().UTC(),
	}
	s.store.AddMessage(msg)
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	otherID := r.URL.Query().Get("other_user_id")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "other_user_id is required")
		return
	}

	msgs := s.store.Conversation(user.ID, otherID)
	if msgs == nil {
		msgs = []portal.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats(currentUser(r.Context())))
}
