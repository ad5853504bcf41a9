// simulate hammers the booking API with concurrent requests for a small set
// of slots and then checks the database for double bookings. Success means
// heavy contention with exactly one winner per slot.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/telehealth-booking/internal/booking"
	"github.com/carebridge/telehealth-booking/internal/config"
	"github.com/carebridge/telehealth-booking/internal/db"
)

type simConfig struct {
	apiBaseURL string
	duration   time.Duration
	workers    int
	readRatio  float64
	slotLimit  int
}

type slotTarget struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

type dataPool struct {
	patients []uuid.UUID
	slots    []slotTarget
}

type operationMetrics struct {
	total     int64
	success   int64
	conflict  int64
	errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *operationMetrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&om.total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.success, 1)
	case status == http.StatusConflict || status == http.StatusNotFound:
		atomic.AddInt64(&om.conflict, 1)
	default:
		atomic.AddInt64(&om.errors, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *operationMetrics) stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	sim := simConfig{}
	flag.StringVar(&sim.apiBaseURL, "api", "http://127.0.0.1:8080", "API base URL")
	flag.DurationVar(&sim.duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&sim.workers, "workers", 32, "concurrent workers")
	flag.Float64Var(&sim.readRatio, "reads", 0.5, "fraction of operations that are list reads")
	flag.IntVar(&sim.slotLimit, "slots", 20, "number of distinct slots to fight over")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	data, err := loadPool(context.Background(), pool, sim.slotLimit)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d patients and %d target slots", len(data.patients), len(data.slots))

	bookMetrics := &operationMetrics{}
	readMetrics := &operationMetrics{}

	runCtx, stop := context.WithTimeout(context.Background(), sim.duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, sim, cfg.AuthSecret, data, bookMetrics, readMetrics)
		}()
	}
	wg.Wait()

	report("book", bookMetrics)
	report("read", readMetrics)

	violations, err := checkInvariant(context.Background(), pool)
	if err != nil {
		log.Fatalf("invariant check: %v", err)
	}
	if violations > 0 {
		fmt.Printf("INVARIANT VIOLATED: %d slots hold more than one active appointment\n", violations)
		os.Exit(1)
	}
	fmt.Println("invariant holds: at most one active appointment per slot")
}

func worker(ctx context.Context, sim simConfig, secret string, data *dataPool, bookMetrics, readMetrics *operationMetrics) {
	client := &http.Client{Timeout: 10 * time.Second}

	for ctx.Err() == nil {
		patient := data.patients[rand.Intn(len(data.patients))]
		token, err := signActorToken(secret, patient, string(booking.RolePatient))
		if err != nil {
			log.Printf("sign token: %v", err)
			return
		}

		if rand.Float64() < sim.readRatio {
			start := time.Now()
			status := doGet(ctx, client, fmt.Sprintf("%s/appointments/patient/%s", sim.apiBaseURL, patient), token)
			readMetrics.record(time.Since(start), status)
			continue
		}

		slot := data.slots[rand.Intn(len(data.slots))]
		body, _ := json.Marshal(map[string]string{
			"patientId": patient.String(),
			"doctorId":  slot.DoctorID.String(),
			"date":      slot.Date,
			"time":      slot.Time,
		})

		start := time.Now()
		status := doPost(ctx, client, sim.apiBaseURL+"/appointments", token, body)
		bookMetrics.record(time.Since(start), status)
	}
}

func doGet(ctx context.Context, client *http.Client, url, token string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func doPost(ctx context.Context, client *http.Client, url, token string, body []byte) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func signActorToken(secret string, userID uuid.UUID, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func loadPool(ctx context.Context, pool *pgxpool.Pool, slotLimit int) (*dataPool, error) {
	data := &dataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'patient' LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.patients = append(data.patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(data.patients) == 0 {
		return nil, fmt.Errorf("no patients seeded")
	}

	availRows, err := pool.Query(ctx, `
		SELECT doctor_id, date, start_time, end_time
		FROM availability
		ORDER BY date
		LIMIT $1
	`, slotLimit)
	if err != nil {
		return nil, err
	}
	defer availRows.Close()

	for availRows.Next() {
		var doctorID uuid.UUID
		var date, start, end string
		if err := availRows.Scan(&doctorID, &date, &start, &end); err != nil {
			return nil, err
		}
		slots := booking.TimeSlots(start, end)
		if len(slots) == 0 {
			continue
		}
		// Only the first slot of each window, to maximize contention.
		data.slots = append(data.slots, slotTarget{DoctorID: doctorID, Date: date, Time: slots[0]})
	}
	if err := availRows.Err(); err != nil {
		return nil, err
	}
	if len(data.slots) == 0 {
		return nil, fmt.Errorf("no availability seeded")
	}

	return data, nil
}

func checkInvariant(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT doctor_id, date, time
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY doctor_id, date, time
			HAVING COUNT(*) > 1
		) doubled
	`).Scan(&violations)
	return violations, err
}

func report(name string, m *operationMetrics) {
	avg, p50, p95 := m.stats()
	fmt.Printf("%s: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s\n",
		name,
		atomic.LoadInt64(&m.total),
		atomic.LoadInt64(&m.success),
		atomic.LoadInt64(&m.conflict),
		atomic.LoadInt64(&m.errors),
		avg, p50, p95,
	)
}
