// portal-cli is a terminal front end for the medical portal: it owns a
// persisted session and drives booking, payment and messaging through the
// client core.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careloop/medportal/internal/access"
	"github.com/careloop/medportal/internal/appointment"
	"github.com/careloop/medportal/internal/chat"
	"github.com/careloop/medportal/internal/config"
	"github.com/careloop/medportal/internal/portal"
	"github.com/careloop/medportal/internal/session"
)

type app struct {
	cfg      config.Config
	client   *portal.Client
	store    *session.Store
	workflow *appointment.Workflow
	log      zerolog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := zerolog.WarnLevel
	if cfg.Env == "dev" && os.Getenv("PORTAL_VERBOSE") != "" {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	slotPath := cfg.CredentialSlotPath
	if slotPath == "" {
		slotPath, err = session.DefaultSlotPath()
		if err != nil {
			return nil, err
		}
	}

	client := portal.NewClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	store := session.NewStore(client, session.NewFileSlot(slotPath), logger)
	wf := appointment.NewWorkflow(client, logger,
		appointment.WithPaymentPolling(cfg.PaymentPollInterval, cfg.PaymentMaxAttempts))

	return &app{cfg: cfg, client: client, store: store, workflow: wf, log: logger}, nil
}

// requireRole hydrates the session and applies the access gate the way a
// protected view would.
func (a *app) requireRole(ctx context.Context, roles ...portal.Role) (*portal.User, error) {
	if err := a.store.Hydrate(ctx); err != nil {
		return nil, err
	}
	snap := a.store.Snapshot()
	switch access.Decide(snap, roles...) {
	case access.DecisionAllow:
		return snap.User, nil
	case access.DecisionDenyForbidden:
		return nil, fmt.Errorf("%w: this command needs one of roles %v", portal.ErrForbidden, roles)
	default:
		return nil, fmt.Errorf("%w: run `portal-cli login` first", portal.ErrAuth)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "portal-cli",
		Short:         "Medical portal client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		registerCmd(),
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		doctorsCmd(),
		bookCmd(),
		appointmentsCmd(),
		payCmd(),
		resolveCmd(),
		chatCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func registerCmd() *cobra.Command {
	var req portal.RegisterRequest
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req.Role = portal.Role(role)
			user, err := a.store.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (%s), next stop: %s\n", user.FullName, user.Role, access.LandingRoute(user.Role))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	cmd.Flags().StringVar(&req.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", "patient", "patient, doctor or admin")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&req.Specialization, "specialization", "", "doctor specialization")
	cmd.Flags().StringVar(&req.Experience, "experience", "", "doctor experience")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.store.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Printf("welcome back %s (%s)\n", user.FullName, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			a.store.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireRole(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s <%s> role=%s id=%s\n", user.FullName, user.Email, user.Role, user.ID)
			return nil
		},
	}
}

func doctorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctors",
		Short: "List available doctors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			doctors, err := a.client.Doctors(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range doctors {
				fmt.Printf("%s  %-24s %s\n", d.ID, d.FullName, d.Specialization)
			}
			return nil
		},
	}
}

func bookCmd() *cobra.Command {
	var doctorID, at, notes string
	var duration int
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment (patients only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if _, err := a.requireRole(cmd.Context(), portal.RolePatient); err != nil {
				return err
			}
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("%w: --at must be RFC3339, e.g. 2026-09-15T10:00:00Z", portal.ErrValidation)
			}
			appt, err := a.workflow.Book(cmd.Context(), doctorID, when, duration, notes)
			if err != nil {
				return err
			}
			fmt.Printf("booked %s at %s (status %s)\n", appt.ID, appt.AppointmentDate.Format(time.RFC3339), appt.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&at, "at", "", "appointment time, RFC3339")
	cmd.Flags().IntVar(&duration, "duration", 30, "duration in minutes")
	cmd.Flags().StringVar(&notes, "notes", "", "notes for the doctor")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func appointmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "appointments",
		Short: "List appointments visible to you",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if _, err := a.requireRole(cmd.Context()); err != nil {
				return err
			}
			appts, err := a.client.ListAppointments(cmd.Context())
			if err != nil {
				return err
			}
			for _, ap := range appts {
				fmt.Printf("%s  %s  %3dmin  %-10s doctor=%s\n",
					ap.ID, ap.AppointmentDate.Format(time.RFC3339), ap.DurationMinutes, ap.Status, ap.DoctorID)
			}
			return nil
		},
	}
}

func payCmd() *cobra.Command {
	var appointmentID string
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Open a checkout session for an appointment and wait for the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if _, err := a.requireRole(cmd.Context(), portal.RolePatient); err != nil {
				return err
			}

			appt, err := findAppointment(cmd.Context(), a.client, appointmentID)
			if err != nil {
				return err
			}
			cs, err := a.workflow.InitiatePayment(cmd.Context(), appt)
			if err != nil {
				return err
			}
			fmt.Printf("complete payment at: %s\n", cs.CheckoutURL)
			fmt.Println("waiting for the gateway to confirm...")

			outcome, updated, err := a.workflow.WatchPayment(cmd.Context(), appt.ID, cs.SessionID)
			if err != nil {
				return err
			}
			switch {
			case outcome.Unknown:
				fmt.Println("payment status unknown; the booking is unchanged, try again later")
			case updated != nil:
				fmt.Printf("payment confirmed, appointment is now %s\n", updated.Status)
			default:
				fmt.Printf("payment %s; the booking stays scheduled and can be retried\n", outcome.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&appointmentID, "id", "", "appointment id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func resolveCmd() *cobra.Command {
	var appointmentID, status string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Complete or cancel an appointment (doctor or admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireRole(cmd.Context(), portal.RoleDoctor, portal.RoleAdmin)
			if err != nil {
				return err
			}
			appt, err := findAppointment(cmd.Context(), a.client, appointmentID)
			if err != nil {
				return err
			}
			updated, err := a.workflow.SetStatus(cmd.Context(), user, appt, portal.AppointmentStatus(status))
			if err != nil {
				return err
			}
			fmt.Printf("appointment %s is now %s\n", updated.ID, updated.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&appointmentID, "id", "", "appointment id")
	cmd.Flags().StringVar(&status, "status", "", "completed or cancelled")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func chatCmd() *cobra.Command {
	var otherID, send string
	var follow bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Show a conversation, optionally send a message or follow it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireRole(cmd.Context())
			if err != nil {
				return err
			}

			syncer := chat.NewSyncer(a.client, otherID, a.log,
				chat.WithInterval(a.cfg.ChatPollInterval),
				chat.WithOnUpdate(func(msgs []portal.ChatMessage) {
					printConversation(user.ID, msgs)
				}))

			if send != "" {
				if _, err := syncer.Send(cmd.Context(), send); err != nil {
					return err
				}
			}
			if !follow {
				msgs, err := a.client.ListMessages(cmd.Context(), otherID)
				if err != nil {
					return err
				}
				log := chat.NewLog()
				log.Merge(msgs)
				printConversation(user.ID, log.Messages())
				return nil
			}

			// Follow until interrupted; ^C tears down the poller.
			return syncer.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&otherID, "with", "", "other user id")
	cmd.Flags().StringVar(&send, "send", "", "message to send before showing the log")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new messages")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

// findAppointment resolves an id through the list endpoint; the backend has
// no GET-by-id route.
func findAppointment(ctx context.Context, client *portal.Client, id string) (*portal.Appointment, error) {
	appts, err := client.ListAppointments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range appts {
		if appts[i].ID == id {
			return &appts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: appointment %s", portal.ErrNotFound, id)
}

func printConversation(selfID string, msgs []portal.ChatMessage) {
	for _, m := range msgs {
		who := "them"
		if m.SenderID == selfID {
			who = "you"
		}
		fmt.Printf("[%s] %-4s %s\n", m.CreatedAt.Format("15:04:05"), who, m.Message)
	}
}
