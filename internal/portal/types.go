package portal

import "time"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentPaid      AppointmentStatus = "paid"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further transition is defined for the status.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentCompleted || s == AppointmentCancelled
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentExpired PaymentStatus = "expired"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentExpired
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Role           Role      `json:"role"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
	Experience     string    `json:"experience,omitempty"`
	MedicalHistory []string  `json:"medical_history,omitempty"`
	Allergies      []string  `json:"allergies,omitempty"`
	Medications    []string  `json:"medications,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Token is the backend's login/register response: a bearer credential plus
// the identity it proves.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

type Appointment struct {
	ID              string            `json:"id"`
	PatientID       string            `json:"patient_id"`
	DoctorID        string            `json:"doctor_id"`
	AppointmentDate time.Time         `json:"appointment_date"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	ConsultationFee float64           `json:"consultation_fee"`
	CreatedAt       time.Time         `json:"created_at"`
}

type BookAppointmentRequest struct {
	DoctorID        string    `json:"doctor_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
}

type RegisterRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FullName       string `json:"full_name"`
	Role           Role   `json:"role"`
	Phone          string `json:"phone,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	Experience     string `json:"experience,omitempty"`
}

type ChatMessage struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Message       string    `json:"message"`
	MessageType   string    `json:"message_type"`
	FileURL       string    `json:"file_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type SendMessageRequest struct {
	ReceiverID    string `json:"receiver_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Message       string `json:"message"`
	MessageType   string `json:"message_type"`
}

// CheckoutSession is the gateway handle returned when a payment is initiated.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CheckoutStatus is the gateway's view of a checkout session. AmountTotal is
// in the currency's minor unit.
type CheckoutStatus struct {
	PaymentStatus PaymentStatus     `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type DashboardStats map[string]int64
