package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careops/clinic-cache/internal/store"
	"github.com/careops/clinic-cache/pkg/logger"
	"go.uber.org/zap"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log, err := logger.New("info", "console")
	if err != nil {
		panic("logger error: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hospitalIDs, err := seedHospitals(context.Background(), pool, 20)
	if err != nil {
		log.Fatal("seed hospitals", zap.Error(err))
	}
	if err := seedDoctors(context.Background(), pool, 150, hospitalIDs); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedTherapists(context.Background(), pool, 40); err != nil {
		log.Fatal("seed therapists", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		addr := gofakeit.Address()
		name := fmt.Sprintf("%s %s Hospital", gofakeit.LastName(), gofakeit.City())
		_, err := pool.Exec(ctx, `
			INSERT INTO hospitals (id, name, address, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())`,
			id, name, addr.Address)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, hospitalIDs []string) error {
	for i := 0; i < count; i++ {
		affiliations := []string{
			hospitalIDs[gofakeit.Number(0, len(hospitalIDs)-1)],
		}
		if gofakeit.Bool() {
			affiliations = append(affiliations, hospitalIDs[gofakeit.Number(0, len(hospitalIDs)-1)])
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, hospital_ids, available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())`,
			uuid.NewString(),
			"Dr. "+gofakeit.Name(),
			specialties[gofakeit.Number(0, len(specialties)-1)],
			affiliations,
			gofakeit.Number(0, 9) > 0)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedTherapists(ctx context.Context, pool *pgxpool.Pool, count int) error {
	kinds := []string{"Physiotherapy", "Psychotherapy", "Occupational Therapy", "Speech Therapy"}
	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO therapists (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())`,
			uuid.NewString(),
			gofakeit.Name(),
			kinds[gofakeit.Number(0, len(kinds)-1)])
		if err != nil {
			return err
		}
	}
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	for i := 0; i < count; i++ {
		email := gofakeit.Email()
		phone := gofakeit.Phone()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())`,
			uuid.NewString(), gofakeit.Name(), email, phone)
		if err != nil {
			return err
		}
	}
	return nil
}
