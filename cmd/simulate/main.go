// simulate drives synthetic patient traffic against a running portal backend
// (normally the devserver): each worker registers a patient, then mixes
// booking, payment and chat operations per the configured ratios and prints a
// latency report.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog"

	"github.com/careloop/medportal/internal/appointment"
	"github.com/careloop/medportal/internal/chat"
	"github.com/careloop/medportal/internal/portal"
	"github.com/careloop/medportal/internal/session"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PaymentRatio float64
	ChatRatio    float64
	ReadRatio    float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Register OperationMetrics
	Booking  OperationMetrics
	Payment  OperationMetrics
	Chat     OperationMetrics
	List     OperationMetrics
	Stats    OperationMetrics
}

// patientSession is one worker's view of the portal: its own client, session
// and workflow, plus the appointments it has created.
type patientSession struct {
	user     *portal.User
	client   *portal.Client
	workflow *appointment.Workflow

	mu    sync.Mutex
	appts []portal.Appointment
}

func (p *patientSession) addAppointment(a portal.Appointment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appts = append(p.appts, a)
}

func (p *patientSession) randomScheduled(rng *rand.Rand) (*portal.Appointment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var scheduled []int
	for i := range p.appts {
		if p.appts[i].Status == portal.AppointmentScheduled {
			scheduled = append(scheduled, i)
		}
	}
	if len(scheduled) == 0 {
		return nil, false
	}
	cp := p.appts[scheduled[rng.Intn(len(scheduled))]]
	return &cp, true
}

func (p *patientSession) markPaid(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.appts {
		if p.appts[i].ID == id {
			p.appts[i].Status = portal.AppointmentPaid
		}
	}
}

type Simulator struct {
	config  SimConfig
	doctors []portal.User
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f payment=%.2f chat=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.PaymentRatio, cfg.ChatRatio, cfg.ReadRatio)

	// The simulator never wants per-request logging.
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doctors, err := fetchDoctors(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("fetch doctors: %v", err)
	}
	if len(doctors) == 0 {
		log.Fatal("backend has no doctors; seed the devserver first")
	}
	log.Printf("loaded %d doctors", len(doctors))

	sim := &Simulator{config: cfg, doctors: doctors, logger: logger}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080/api"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		PaymentRatio: getFloat("SIM_PAYMENT_RATIO", 0.2),
		ChatRatio:    getFloat("SIM_CHAT_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
	}

	total := cfg.BookingRatio + cfg.PaymentRatio + cfg.ChatRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.PaymentRatio /= total
		cfg.ChatRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func fetchDoctors(ctx context.Context, cfg SimConfig, logger zerolog.Logger) ([]portal.User, error) {
	client := portal.NewClient(cfg.APIBaseURL, &http.Client{Timeout: 10 * time.Second}, logger)
	return client.Doctors(ctx)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	ps, err := s.registerPatient(ctx, workerID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("worker %d: register failed: %v", workerID, err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, ps, rng)
			case r < s.config.BookingRatio+s.config.PaymentRatio:
				s.doPayment(ctx, ps, rng)
			case r < s.config.BookingRatio+s.config.PaymentRatio+s.config.ChatRatio:
				s.doChat(ctx, ps, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doList(ctx, ps)
				} else {
					s.doStats(ctx, ps)
				}
			}
		}
	}
}

func (s *Simulator) registerPatient(ctx context.Context, workerID int) (*patientSession, error) {
	client := portal.NewClient(s.config.APIBaseURL, &http.Client{Timeout: 10 * time.Second}, s.logger)
	store := session.NewStore(client, &session.MemorySlot{}, s.logger)

	start := time.Now()
	user, err := store.Register(ctx, portal.RegisterRequest{
		Email:    fmt.Sprintf("sim-%d-%d@medportal.test", workerID, time.Now().UnixNano()),
		Password: "sim-password",
		FullName: gofakeit.Name(),
		Role:     portal.RolePatient,
		Phone:    gofakeit.Phone(),
	})
	s.metrics.Register.Record(time.Since(start), err == nil, false)
	if err != nil {
		return nil, err
	}

	// Payment polling is aggressive here: the fake gateway resolves after a
	// few polls and the simulation window is short.
	wf := appointment.NewWorkflow(client, s.logger,
		appointment.WithPaymentPolling(100*time.Millisecond, 50))

	return &patientSession{user: user, client: client, workflow: wf}, nil
}

func (s *Simulator) doBooking(ctx context.Context, ps *patientSession, rng *rand.Rand) {
	doctor := s.doctors[rng.Intn(len(s.doctors))]
	when := time.Now().Add(time.Duration(1+rng.Intn(30*24)) * time.Hour)

	start := time.Now()
	appt, err := ps.workflow.Book(ctx, doctor.ID, when, 30, "simulated booking")
	latency := time.Since(start)

	if err != nil {
		s.metrics.Booking.Record(latency, false, errors.Is(err, portal.ErrConflict))
		return
	}
	ps.addAppointment(*appt)
	s.metrics.Booking.Record(latency, true, false)
}

func (s *Simulator) doPayment(ctx context.Context, ps *patientSession, rng *rand.Rand) {
	appt, ok := ps.randomScheduled(rng)
	if !ok {
		return
	}

	start := time.Now()
	cs, err := ps.workflow.InitiatePayment(ctx, appt)
	if err != nil {
		s.metrics.Payment.Record(time.Since(start), false, errors.Is(err, portal.ErrConflict))
		return
	}

	outcome, updated, err := ps.workflow.WatchPayment(ctx, appt.ID, cs.SessionID)
	latency := time.Since(start)

	if err != nil || outcome.Unknown {
		s.metrics.Payment.Record(latency, false, false)
		return
	}
	if updated != nil {
		ps.markPaid(appt.ID)
	}
	s.metrics.Payment.Record(latency, true, false)
}

func (s *Simulator) doChat(ctx context.Context, ps *patientSession, rng *rand.Rand) {
	doctor := s.doctors[rng.Intn(len(s.doctors))]
	syncer := chat.NewSyncer(ps.client, doctor.ID, s.logger)

	start := time.Now()
	_, err := syncer.Send(ctx, gofakeit.Sentence(8))
	if err == nil {
		_, err = ps.client.ListMessages(ctx, doctor.ID)
	}
	s.metrics.Chat.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doList(ctx context.Context, ps *patientSession) {
	start := time.Now()
	_, err := ps.client.ListAppointments(ctx)
	s.metrics.List.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doStats(ctx context.Context, ps *patientSession) {
	start := time.Now()
	_, err := ps.client.Stats(ctx)
	s.metrics.Stats.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Register", &s.metrics.Register)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Payment", &s.metrics.Payment)
	printOperationReport("Chat", &s.metrics.Chat)
	printOperationReport("List Appointments", &s.metrics.List)
	printOperationReport("Dashboard Stats", &s.metrics.Stats)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failures := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failures > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failures, float64(failures)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
