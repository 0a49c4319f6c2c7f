package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/portal"
)

func newTestServer(t *testing.T, pollsUntilFinal int) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{
		JWTSecret:              "test-secret",
		TokenTTL:               30 * time.Minute,
		GatewayPollsUntilFinal: pollsUntilFinal,
	}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func register(t *testing.T, ts *httptest.Server, req portal.RegisterRequest) portal.Token {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var tok portal.Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return tok
}

func TestHandlers_RegisterDuplicateEmail(t *testing.T) {
	_, ts := newTestServer(t, 1)
	req := portal.RegisterRequest{
		Email: "pat@example.test", Password: "pw", FullName: "Pat", Role: portal.RolePatient,
	}
	register(t, ts, req)

	body, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register status = %d, want 400", resp.StatusCode)
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Detail != "Email already registered" {
		t.Errorf("detail = %q", payload.Detail)
	}
}

func TestHandlers_ProtectedRouteRejectsMissingCredential(t *testing.T) {
	_, ts := newTestServer(t, 1)
	resp, err := http.Get(ts.URL + "/api/auth/me")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandlers_OnlyPatientsBook(t *testing.T) {
	_, ts := newTestServer(t, 1)
	doc := register(t, ts, portal.RegisterRequest{
		Email: "doc@example.test", Password: "pw", FullName: "Doc",
		Role: portal.RoleDoctor, Specialization: "Cardiology", Experience: "9 years",
	})

	body, _ := json.Marshal(portal.BookAppointmentRequest{
		DoctorID: doc.User.ID, AppointmentDate: time.Now().Add(24 * time.Hour), DurationMinutes: 30,
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+doc.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("doctor booking status = %d, want 403", resp.StatusCode)
	}
}

func TestStore_AppointmentVisibilityByRole(t *testing.T) {
	store := NewStore()
	patient := portal.User{ID: uuid.NewString(), Email: "p@x", Role: portal.RolePatient}
	doctor := portal.User{ID: uuid.NewString(), Email: "d@x", Role: portal.RoleDoctor}
	admin := portal.User{ID: uuid.NewString(), Email: "a@x", Role: portal.RoleAdmin}
	other := portal.User{ID: uuid.NewString(), Email: "o@x", Role: portal.RolePatient}
	for _, u := range []portal.User{patient, doctor, admin, other} {
		if err := store.CreateUser(u, "hash"); err != nil {
			t.Fatal(err)
		}
	}

	mine := portal.Appointment{ID: uuid.NewString(), PatientID: patient.ID, DoctorID: doctor.ID, Status: portal.AppointmentScheduled}
	theirs := portal.Appointment{ID: uuid.NewString(), PatientID: other.ID, DoctorID: uuid.NewString(), Status: portal.AppointmentScheduled}
	store.AddAppointment(mine)
	store.AddAppointment(theirs)

	if got := store.AppointmentsFor(patient); len(got) != 1 || got[0].ID != mine.ID {
		t.Errorf("patient sees %d appointments, want only their own", len(got))
	}
	if got := store.AppointmentsFor(doctor); len(got) != 1 || got[0].ID != mine.ID {
		t.Errorf("doctor sees %d appointments, want only assigned ones", len(got))
	}
	if got := store.AppointmentsFor(admin); len(got) != 2 {
		t.Errorf("admin sees %d appointments, want all", len(got))
	}
}

func TestGateway_PendingWindowThenScriptedStatus(t *testing.T) {
	gw := NewGateway(3)
	cs := gw.CreateSession(5000, "usd", map[string]string{"appointment_id": "a1"})

	for i := 0; i < 2; i++ {
		st, err := gw.Status(cs.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if st.PaymentStatus != portal.PaymentPending {
			t.Fatalf("poll %d: status = %s, want pending", i+1, st.PaymentStatus)
		}
	}

	st, err := gw.Status(cs.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.PaymentStatus != portal.PaymentPaid {
		t.Errorf("final status = %s, want paid (default)", st.PaymentStatus)
	}
	if st.AmountTotal != 5000 || st.Currency != "usd" {
		t.Errorf("amount/currency = %d/%s", st.AmountTotal, st.Currency)
	}
	if st.Metadata["appointment_id"] != "a1" {
		t.Errorf("metadata lost: %+v", st.Metadata)
	}
}

func TestGateway_ResolveTo(t *testing.T) {
	gw := NewGateway(1)
	cs := gw.CreateSession(5000, "usd", nil)

	if err := gw.ResolveTo(cs.SessionID, portal.PaymentExpired); err != nil {
		t.Fatal(err)
	}
	st, err := gw.Status(cs.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.PaymentStatus != portal.PaymentExpired {
		t.Errorf("status = %s, want expired", st.PaymentStatus)
	}

	if err := gw.ResolveTo("cs_missing", portal.PaymentPaid); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestHandlers_CheckoutConflictOnPendingSession(t *testing.T) {
	_, ts := newTestServer(t, 10) // stays pending for the whole test
	doc := register(t, ts, portal.RegisterRequest{
		Email: "doc@example.test", Password: "pw", FullName: "Doc",
		Role: portal.RoleDoctor, Specialization: "Cardiology", Experience: "9 years",
	})
	pat := register(t, ts, portal.RegisterRequest{
		Email: "pat@example.test", Password: "pw", FullName: "Pat", Role: portal.RolePatient,
	})

	body, _ := json.Marshal(portal.BookAppointmentRequest{
		DoctorID: doc.User.ID, AppointmentDate: time.Now().Add(24 * time.Hour), DurationMinutes: 30,
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/appointments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pat.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var appt portal.Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	checkout := func() int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/payments/create-checkout?appointment_id="+appt.ID, nil)
		req.Header.Set("Authorization", "Bearer "+pat.AccessToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if status := checkout(); status != http.StatusOK {
		t.Fatalf("first checkout status = %d", status)
	}
	if status := checkout(); status != http.StatusConflict {
		t.Errorf("second checkout status = %d, want 409", status)
	}
}
