package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/config"
	"github.com/hackgods/therapy-booking/internal/db"
	"github.com/hackgods/therapy-booking/internal/logger"
)

var therapies = []struct {
	name    string
	minutes []int
}{
	{"Talk Therapy", []int{50, 60}},
	{"Cognitive Behavioral Therapy", []int{45, 60}},
	{"Couples Therapy", []int{60, 90}},
	{"Psychiatric Evaluation", []int{60, 90}},
	{"EMDR", []int{60, 90}},
	{"Medication Management", []int{20, 30}},
	{"Family Therapy", []int{60, 75}},
	{"Mindfulness Coaching", []int{30, 45}},
}

// Weekly window shapes a doctor can be assigned, as [start, end) pairs.
var shifts = [][][2]string{
	{{"09:00", "17:00"}},
	{{"09:00", "12:00"}, {"14:00", "18:00"}},
	{{"08:00", "12:00"}},
	{{"12:00", "20:00"}},
}

var weekdays = []appointment.DayOfWeek{
	appointment.Monday, appointment.Tuesday, appointment.Wednesday,
	appointment.Thursday, appointment.Friday, appointment.Saturday,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, AppName: "seed"})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if applied, err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	} else {
		log.Info("migrations applied", zap.Int("count", applied))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	serviceIDs, err := seedServices(ctx, pool)
	if err != nil {
		log.Fatal("seed services", zap.Error(err))
	}
	if err := seedDoctors(ctx, pool, faker, serviceIDs, getInt("SEED_DOCTORS", 40), log); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, faker, getInt("SEED_PATIENTS", 2000), log); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(therapies))
	for _, t := range therapies {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO services (id, name)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), t.name).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids[t.name] = id
	}
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, serviceIDs map[string]uuid.UUID, count int, log *zap.Logger) error {
	log.Info("seeding doctors", zap.Int("count", count))

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, email)
				VALUES ($1, $2, $3)
			`, id, "Dr. "+faker.Name(), faker.Email()); err != nil {
				return err
			}

			// each doctor offers three to five therapies
			order := make([]int, len(therapies))
			for j := range order {
				order[j] = j
			}
			faker.ShuffleInts(order)
			for _, idx := range order[:faker.Number(3, 5)] {
				t := therapies[idx]
				minutes := t.minutes[faker.Number(0, len(t.minutes)-1)]
				price := int64(faker.Number(60, 220)) * 100
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctor_services (doctor_id, service_id, duration_minutes, price_cents, currency)
					VALUES ($1, $2, $3, $4, 'usd')
				`, id, serviceIDs[t.name], minutes, price); err != nil {
					return err
				}
			}

			shift := shifts[faker.Number(0, len(shifts)-1)]
			for _, day := range weekdays {
				if faker.Number(1, 10) <= 3 {
					continue // day off
				}
				for _, w := range shift {
					start := appointment.MustTimeOfDay(w[0])
					end := appointment.MustTimeOfDay(w[1])
					if _, err := tx.Exec(ctx, `
						INSERT INTO weekly_availability (id, doctor_id, day_of_week, start_time, end_time)
						VALUES ($1, $2, $3, $4, $5)
					`, uuid.New(), id, string(day), appointment.TimeOfDayToPg(start), appointment.TimeOfDayToPg(end)); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`INSERT INTO patients (id, name, email) VALUES ($1, $2, $3)`,
				uuid.New(), faker.Name(), faker.Email())
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func getInt(key string, def int) int {
	var n int
	if v := os.Getenv(key); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}
