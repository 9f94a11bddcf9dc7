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
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careops/clinic-cache/internal/store"
)

type simConfig struct {
	apiBaseURL  string
	duration    time.Duration
	workers     int
	slotCount   int
	cancelRatio float64
	postgresDSN string
}

type dataPool struct {
	patients  []string
	doctors   []string
	hospitals map[string]string // doctor id -> one affiliated hospital
}

type counters struct {
	confirmed atomic.Int64
	queued    atomic.Int64
	conflicts atomic.Int64
	cancels   atomic.Int64
	errors    atomic.Int64
}

func main() {
	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.ConnectPostgres(ctx, cfg.postgresDSN)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	data, err := loadPool(context.Background(), pool, 200)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load data pool: %v\n", err)
		os.Exit(1)
	}
	if len(data.patients) == 0 || len(data.doctors) == 0 {
		fmt.Fprintln(os.Stderr, "no seeded patients/doctors found, run cmd/seed first")
		os.Exit(1)
	}

	// A small slot pool per doctor guarantees genuine contention.
	base := time.Now().Truncate(time.Hour).Add(24 * time.Hour)
	slots := make([]time.Time, cfg.slotCount)
	for i := range slots {
		slots[i] = base.Add(time.Duration(i) * 30 * time.Minute)
	}

	fmt.Printf("simulating: workers=%d duration=%s doctors=%d patients=%d slots=%d\n",
		cfg.workers, cfg.duration, len(data.doctors), len(data.patients), len(slots))

	var stats counters
	deadline := time.Now().Add(cfg.duration)
	client := &http.Client{Timeout: 10 * time.Second}

	var wg sync.WaitGroup
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(deadline) {
				patient := data.patients[rng.Intn(len(data.patients))]
				doctor := data.doctors[rng.Intn(len(data.doctors))]
				slot := slots[rng.Intn(len(slots))]

				if rng.Float64() < cfg.cancelRatio {
					doCancel(client, cfg.apiBaseURL, patient, doctor, slot, &stats)
					continue
				}
				doBooking(client, cfg.apiBaseURL, patient, doctor, data.hospitals[doctor], slot, rng, &stats)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	fmt.Printf("done: confirmed=%d queued=%d conflicts=%d cancels=%d errors=%d\n",
		stats.confirmed.Load(), stats.queued.Load(), stats.conflicts.Load(),
		stats.cancels.Load(), stats.errors.Load())
}

func doBooking(client *http.Client, baseURL, patient, doctor, hospital string, slot time.Time, rng *rand.Rand, stats *counters) {
	priority := "normal"
	if rng.Intn(20) == 0 {
		priority = "emergency"
	}
	body, _ := json.Marshal(map[string]string{
		"patient_id":  patient,
		"doctor_id":   doctor,
		"hospital_id": hospital,
		"slot":        slot.UTC().Format(time.RFC3339),
		"priority":    priority,
	})

	resp, err := client.Post(baseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		stats.errors.Add(1)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusCreated:
		stats.confirmed.Add(1)
	case http.StatusAccepted:
		stats.queued.Add(1)
	case http.StatusConflict:
		stats.conflicts.Add(1)
	default:
		stats.errors.Add(1)
	}
}

func doCancel(client *http.Client, baseURL, patient, doctor string, slot time.Time, stats *counters) {
	body, _ := json.Marshal(map[string]string{
		"patient_id": patient,
		"doctor_id":  doctor,
		"slot":       slot.UTC().Format(time.RFC3339),
	})
	resp, err := client.Post(baseURL+"/bookings/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		stats.errors.Add(1)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNoContent {
		stats.cancels.Add(1)
	}
}

func loadPool(ctx context.Context, pool *pgxpool.Pool, limit int) (*dataPool, error) {
	data := &dataPool{hospitals: make(map[string]string)}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		data.patients = append(data.patients, id)
	}

	drows, err := pool.Query(ctx, `SELECT id, hospital_ids FROM doctors LIMIT $1`, limit/4)
	if err != nil {
		return nil, err
	}
	defer drows.Close()
	for drows.Next() {
		var id string
		var hospitalIDs []string
		if err := drows.Scan(&id, &hospitalIDs); err != nil {
			return nil, err
		}
		if len(hospitalIDs) == 0 {
			continue
		}
		data.doctors = append(data.doctors, id)
		data.hospitals[id] = hospitalIDs[0]
	}

	return data, nil
}

func loadSimConfig() simConfig {
	cfg := simConfig{
		apiBaseURL:  getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		duration:    30 * time.Second,
		workers:     16,
		slotCount:   8,
		cancelRatio: 0.15,
		postgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.postgresDSN == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN is required")
		os.Exit(1)
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.workers = n
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
