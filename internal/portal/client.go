package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenProvider returns the current bearer credential, or "" when no session
// is active.
type TokenProvider func() string

// Client talks to the portal backend. All methods attach the bearer
// credential supplied by the token provider; a 401 on any call fires the
// unauthorized hook so the session owner can clear itself.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger

	token          TokenProvider
	onUnauthorized func()
}

func NewClient(baseURL string, httpc *http.Client, logger zerolog.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		log:     logger,
	}
}

// SetTokenProvider wires the credential source. Set once at startup, before
// any authenticated call.
func (c *Client) SetTokenProvider(tp TokenProvider) { c.token = tp }

// SetUnauthorizedHook registers the callback fired when the backend rejects
// the credential. Fired at most once per response.
func (c *Client) SetUnauthorizedHook(fn func()) { c.onUnauthorized = fn }

func (c *Client) Login(ctx context.Context, email, password string) (*Token, error) {
	in := map[string]string{"email": email, "password": password}
	var out Token
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Token, error) {
	var out Token
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Doctors(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/users/doctors", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAppointment(ctx context.Context, req BookAppointmentRequest) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAppointments(ctx context.Context) ([]Appointment, error) {
	var out []Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error) {
	q := url.Values{"status": []string{string(status)}}
	var out Appointment
	if err := c.do(ctx, http.MethodPut, "/appointments/"+id, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCheckout(ctx context.Context, appointmentID string) (*CheckoutSession, error) {
	q := url.Values{"appointment_id": []string{appointmentID}}
	var out CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/payments/create-checkout", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckoutStatus(ctx context.Context, sessionID string) (*CheckoutStatus, error) {
	var out CheckoutStatus
	if err := c.do(ctx, http.MethodGet, "/payments/status/"+sessionID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, otherUserID string) ([]ChatMessage, error) {
	q := url.Values{"other_user_id": []string{otherUserID}}
	var out []ChatMessage
	if err := c.do(ctx, http.MethodGet, "/chat/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*ChatMessage, error) {
	var out ChatMessage
	if err := c.do(ctx, http.MethodPost, "/chat/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (DashboardStats, error) {
	var out DashboardStats
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Detail = payload.Detail
		}
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("detail", apiErr.Detail).
			Msg("backend error")
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
