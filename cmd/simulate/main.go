package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/auth"
	"github.com/hackgods/therapy-booking/internal/config"
	"github.com/hackgods/therapy-booking/internal/db"
	"github.com/hackgods/therapy-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	PatientLimit  int
	OfferingLimit int
	HotSlots      int // number of slots every worker fights over
	PostgresDSN   string
	SessionSecret string
}

// Slot is a bookable start for one doctor offering, derived from weekly availability.
type Slot struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Start     time.Time
}

type booked struct {
	id        uuid.UUID
	patientID uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []Slot
	mu       sync.RWMutex
	booked   []booked
}

func (dp *DataPool) AddAppointment(id, patientID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, booked{id: id, patientID: patientID})
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.booked) == 0 {
		return booked{}, false
	}
	return dp.booked[rng.Intn(len(dp.booked))], true
}

// opStats counts responses by HTTP status and keeps every latency for percentiles.
type opStats struct {
	mu        sync.Mutex
	byStatus  map[int]int
	transport int // requests that never got a response
	latencies []time.Duration
}

func (o *opStats) observe(status int, took time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byStatus == nil {
		o.byStatus = make(map[int]int)
	}
	if status == 0 {
		o.transport++
	} else {
		o.byStatus[status]++
	}
	o.latencies = append(o.latencies, took)
}

type summary struct {
	total         int
	byStatus      map[int]int
	transport     int
	avg, p50, p95 time.Duration
	p99, slowest  time.Duration
}

func (o *opStats) summarize() summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := summary{total: len(o.latencies), byStatus: make(map[int]int, len(o.byStatus)), transport: o.transport}
	for k, v := range o.byStatus {
		out.byStatus[k] = v
	}
	if out.total == 0 {
		return out
	}

	sorted := slices.Clone(o.latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	out.avg = sum / time.Duration(len(sorted))
	out.p50 = percentile(sorted, 50)
	out.p95 = percentile(sorted, 95)
	out.p99 = percentile(sorted, 99)
	out.slowest = sorted[len(sorted)-1]
	return out
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q int) time.Duration {
	i := len(sorted) * q / 100
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

type simStats struct {
	booking    opStats
	hotBooking opStats
	cancel     opStats
	readByID   opStats
	list       opStats
}

type Simulator struct {
	config SimConfig
	pool   *DataPool
	client *http.Client
	tokens *auth.Manager
	stats  simStats
}

var log = zap.NewNop().Sugar()

func main() {
	if l, err := logger.New("info", "console"); err == nil {
		log = l.Sugar()
	}
	defer func() { _ = log.Sync() }()
	log.Info("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Infof("config: duration=%s workers=%d booking=%.2f cancel=%.2f read=%.2f hot_slots=%d",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio, cfg.HotSlots)

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, AppName: "simulate"})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Infof("loaded: %d patients, %d candidate slots", len(dataPool.Patients), len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokens: auth.NewManager(cfg.SessionSecret, 2*time.Hour),
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()

	overlaps, err := countDoubleBookings(context.Background(), pgPool)
	if err != nil {
		log.Fatalf("double booking check: %v", err)
	}
	fmt.Printf("Double bookings found: %d\n", overlaps)
	if overlaps > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    envOr("SIM_API_BASE_URL", "http://localhost:8080", parseString),
		Duration:      envOr("SIM_DURATION", 30*time.Second, time.ParseDuration),
		Workers:       envOr("SIM_WORKERS", 10, strconv.Atoi),
		BookingRatio:  envOr("SIM_BOOKING_RATIO", 0.5, parseFloat),
		CancelRatio:   envOr("SIM_CANCEL_RATIO", 0.1, parseFloat),
		ReadRatio:     envOr("SIM_READ_RATIO", 0.4, parseFloat),
		PatientLimit:  envOr("SIM_PATIENT_LIMIT", 2000, strconv.Atoi),
		OfferingLimit: envOr("SIM_OFFERING_LIMIT", 200, strconv.Atoi),
		HotSlots:      envOr("SIM_HOT_SLOTS", 5, strconv.Atoi),
		PostgresDSN:   baseCfg.PostgresDSN,
		SessionSecret: baseCfg.SessionSecret,
	}
	if baseCfg.SessionSecretGenerated {
		// must match the api-server's key; a per-process one never does
		cfg.SessionSecret = ""
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required to mint patient tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	// Load patients
	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	// Load offerings with their windows and expand them into candidate starts
	rows, err = pool.Query(ctx, `
		SELECT ds.doctor_id, ds.service_id, ds.duration_minutes,
		       wa.day_of_week, wa.start_time, wa.end_time
		FROM doctor_services ds
		JOIN weekly_availability wa ON wa.doctor_id = ds.doctor_id
		LIMIT $1
	`, cfg.OfferingLimit)
	if err != nil {
		return nil, fmt.Errorf("load offerings: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	for rows.Next() {
		var (
			doctorID, serviceID uuid.UUID
			minutes             int
			day                 string
			start, end          pgtype.Time
		)
		if err := rows.Scan(&doctorID, &serviceID, &minutes, &day, &start, &end); err != nil {
			return nil, err
		}
		from := time.Duration(start.Microseconds) * time.Microsecond
		to := time.Duration(end.Microseconds) * time.Microsecond
		for _, s := range expandWindow(now, appointment.DayOfWeek(day), from, to, time.Duration(minutes)*time.Minute) {
			dataPool.Slots = append(dataPool.Slots, Slot{DoctorID: doctorID, ServiceID: serviceID, Start: s})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}

	return dataPool, nil
}

// expandWindow lists session starts inside [start, end) on the next two occurrences of day
// that are at least two days out, so every start clears the advance notice.
func expandWindow(now time.Time, day appointment.DayOfWeek, start, end, length time.Duration) []time.Time {
	var out []time.Time
	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 2)
	for d, found := 0, 0; d < 21 && found < 2; d++ {
		date := base.AddDate(0, 0, d)
		if appointment.DayOf(date) != day {
			continue
		}
		found++
		for t := start; t < end; t += length {
			out = append(out, date.Add(t))
		}
	}
	return out
}

func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND a.end_time > b.start_time
		WHERE a.status <> 'cancelled' AND b.status <> 'cancelled'
		  AND NOT a.deleted AND NOT b.deleted
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Infof("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else if r < s.config.BookingRatio+s.config.CancelRatio {
				s.doCancel(ctx, rng)
			} else if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) token(id uuid.UUID, role appointment.Role) string {
	t, err := s.tokens.Issue(appointment.Actor{UserID: id, Role: role})
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	return t
}

func (s *Simulator) send(ctx context.Context, method, path string, patientID uuid.UUID, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(patientID, appointment.RolePatient))
	return s.client.Do(req)
}

// call sends one request as patientID and records its status and latency in op.
// onBody, if set, sees the response before it is closed.
func (s *Simulator) call(ctx context.Context, op *opStats, method, path string, patientID uuid.UUID, body any, onBody func(*http.Response)) {
	began := time.Now()
	resp, err := s.send(ctx, method, path, patientID, body)
	took := time.Since(began)
	if err != nil {
		if ctx.Err() == nil {
			log.Debugw("request failed", "path", path, "error", err)
			op.observe(0, took)
		}
		return
	}
	defer resp.Body.Close()

	if onBody != nil {
		onBody(resp)
	}
	op.observe(resp.StatusCode, took)
}

// doBooking books either a random slot or, one time in four, one of the first HotSlots
// slots that every worker competes for.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	op := &s.stats.booking
	idx := rng.Intn(len(s.pool.Slots))
	if s.config.HotSlots > 0 && rng.Intn(4) == 0 {
		idx = rng.Intn(min(s.config.HotSlots, len(s.pool.Slots)))
		op = &s.stats.hotBooking
	}
	slot := s.pool.Slots[idx]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	payload := map[string]any{
		"doctor_id":  slot.DoctorID.String(),
		"service_id": slot.ServiceID.String(),
		"start_time": slot.Start.Format(time.RFC3339),
	}
	s.call(ctx, op, http.MethodPost, "/api/v1/appointments", patientID, payload, func(resp *http.Response) {
		if resp.StatusCode != http.StatusCreated {
			return
		}
		var out struct {
			Data struct {
				Appointment struct {
					ID uuid.UUID `json:"id"`
				} `json:"appointment"`
			} `json:"data"`
		}
		if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Data.Appointment.ID != uuid.Nil {
			s.pool.AddAppointment(out.Data.Appointment.ID, patientID)
		}
	})
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.stats.cancel, http.MethodPost, "/api/v1/appointments/"+appt.id.String()+"/cancel",
		appt.patientID, map[string]string{"reason": "simulated cancellation"}, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.stats.readByID, http.MethodGet, "/api/v1/appointments/"+appt.id.String(), appt.patientID, nil, nil)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.call(ctx, &s.stats.list, http.MethodGet, "/api/v1/appointments?page=1&limit=20", patientID, nil, nil)
}

func (s *Simulator) PrintReport() {
	rule := strings.Repeat("=", 80)
	fmt.Printf("\n%s\nSIMULATION REPORT (%s, %d workers)\n%s\n\n", rule, s.config.Duration, s.config.Workers, rule)

	for _, r := range []struct {
		name string
		op   *opStats
	}{
		{"Booking", &s.stats.booking},
		{"Booking (contended slots)", &s.stats.hotBooking},
		{"Cancel", &s.stats.cancel},
		{"Read by ID", &s.stats.readByID},
		{"List own", &s.stats.list},
	} {
		printSummary(r.name, r.op.summarize())
	}
}

func printSummary(name string, sum summary) {
	if sum.total == 0 {
		return
	}

	fmt.Printf("%s: %d requests\n", name, sum.total)
	codes := make([]int, 0, len(sum.byStatus))
	for code := range sum.byStatus {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		n := sum.byStatus[code]
		fmt.Printf("  %d %-22s %6d (%.1f%%)\n", code, http.StatusText(code), n, float64(n)/float64(sum.total)*100)
	}
	if sum.transport > 0 {
		fmt.Printf("  no response              %6d\n", sum.transport)
	}
	fmt.Printf("  latency avg=%s p50=%s p95=%s p99=%s max=%s\n\n",
		sum.avg.Round(time.Millisecond), sum.p50.Round(time.Millisecond), sum.p95.Round(time.Millisecond),
		sum.p99.Round(time.Millisecond), sum.slowest.Round(time.Millisecond))
}

// envOr parses key with parse, falling back to def when unset or malformed.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		log.Warnw("ignoring malformed env value", "key", key, "value", v, "error", err)
		return def
	}
	return out
}

func parseString(v string) (string, error) { return v, nil }
func parseFloat(v string) (float64, error) { return strconv.ParseFloat(v, 64) }
