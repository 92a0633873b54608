package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-waitlist-engine/internal/config"
	"github.com/hackgods/appointment-waitlist-engine/internal/db"
	"github.com/hackgods/appointment-waitlist-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Users         int
	BookingRatio  float64
	CancelRatio   float64
	WaitlistRatio float64
	ReadRatio     float64
	SlotLimit     int
	PostgresDSN   string
}

type slotRef struct {
	ID        uuid.UUID
	ServiceID uuid.UUID
}

type bookedRef struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type DataPool struct {
	Users        []uuid.UUID
	Slots        []slotRef
	mu           sync.Mutex
	appointments []bookedRef
}

func (dp *DataPool) AddAppointment(ref bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

// TakeRandomAppointment removes and returns a booked appointment so two
// workers never cancel the same one.
func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return bookedRef{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	ref := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return ref, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Waitlist     OperationMetrics
	Availability OperationMetrics
	ListOwn      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("component", "simulate").Logger()
	logger.Info().Msg("simulator starting")

	cfg := loadConfig(logger)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("waitlist", cfg.WaitlistRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config loaded")

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("users", len(dataPool.Users)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	violations, err := checkCapacity(context.Background(), pgPool, dataPool.Slots)
	if err != nil {
		logger.Fatal().Err(err).Msg("capacity check")
	}
	if len(violations) > 0 {
		for _, v := range violations {
			logger.Error().Str("slot_id", v.SlotID.String()).Int("active", v.Active).Int("capacity", v.Capacity).Msg("slot overbooked")
		}
		os.Exit(1)
	}
	logger.Info().Msg("capacity invariant held for every slot")
}

func loadConfig(logger zerolog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Users:         getInt("SIM_USERS", 500),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		WaitlistRatio: getFloat("SIM_WAITLIST_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		SlotLimit:     getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.WaitlistRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.WaitlistRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Users <= 0 {
		return fmt.Errorf("SIM_USERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of bookable slots so workers contend on them.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Users: make([]uuid.UUID, cfg.Users)}
	for i := range dataPool.Users {
		dataPool.Users[i] = uuid.New()
	}

	rows, err := pool.Query(ctx, `
		SELECT id, service_id FROM appointment_slots
		WHERE status = 'AVAILABLE'
		  AND start_at - make_interval(mins => buffer_before_minutes) > now()
		ORDER BY start_at
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref slotRef
		if err := rows.Scan(&ref.ID, &ref.ServiceID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no bookable slots loaded, run cmd/seed first")
	}
	return dataPool, nil
}

type capacityViolation struct {
	SlotID   uuid.UUID
	Active   int
	Capacity int
}

func checkCapacity(ctx context.Context, pool *pgxpool.Pool, slots []slotRef) ([]capacityViolation, error) {
	ids := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}

	rows, err := pool.Query(ctx, `
		SELECT s.id, s.capacity, COUNT(a.id)
		FROM appointment_slots s
		JOIN appointments a ON a.slot_id = s.id AND a.status <> 'CANCELLED'
		WHERE s.id = ANY($1)
		GROUP BY s.id, s.capacity
		HAVING COUNT(a.id) > s.capacity
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("check capacity: %w", err)
	}
	defer rows.Close()

	var out []capacityViolation
	for rows.Next() {
		var v capacityViolation
		if err := rows.Scan(&v.SlotID, &v.Capacity, &v.Active); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio+s.config.WaitlistRatio:
				s.doWaitlist(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doListOwn(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomUser(rng *rand.Rand) uuid.UUID {
	return s.pool.Users[rng.Intn(len(s.pool.Users))]
}

func (s *Simulator) randomSlot(rng *rand.Rand) slotRef {
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

// call issues one request as userID and returns the status code and body.
func (s *Simulator) call(ctx context.Context, method, path string, userID uuid.UUID, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)
	userID := s.randomUser(rng)

	start := time.Now()
	status, body, err := s.call(ctx, http.MethodPost, "/appointments", userID, map[string]string{
		"service_id": slot.ServiceID.String(),
		"slot_id":    slot.ID.String(),
	})
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(bookedRef{ID: appt.ID, UserID: userID})
		}
	}
	s.metrics.Booking.Record(latency, success, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+ref.ID.String()+"/cancel", ref.UserID,
		map[string]string{"reason": "simulated cancellation"})
	latency := time.Since(start)

	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doWaitlist(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/queue-tickets", s.randomUser(rng), map[string]string{
		"service_id": slot.ServiceID.String(),
		"slot_id":    slot.ID.String(),
	})
	latency := time.Since(start)

	s.metrics.Waitlist.Record(latency, err == nil && status == http.StatusCreated, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/services/"+slot.ServiceID.String()+"/availability", s.randomUser(rng), nil)
	latency := time.Since(start)

	s.metrics.Availability.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListOwn(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/appointments?limit=20", s.randomUser(rng), nil)
	latency := time.Since(start)

	s.metrics.ListOwn.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Waitlist", &s.metrics.Waitlist)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List own", &s.metrics.ListOwn)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

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
