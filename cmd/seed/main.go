package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-waitlist-engine/internal/db"
	"github.com/hackgods/appointment-waitlist-engine/internal/logging"
)

const (
	serviceCount  = 10
	daysAhead     = 14
	slotsPerDay   = 8
	firstSlotHour = 9
)

var (
	serviceKinds = []string{
		"Consultation",
		"Follow-up",
		"Dermatology",
		"Physiotherapy",
		"Dental Cleaning",
		"Eye Exam",
		"Vaccination",
		"Blood Test",
		"Nutrition Coaching",
		"Massage",
	}
	timezones = []string{"UTC", "Europe/Berlin", "America/New_York", "Asia/Singapore"}
)

type seededService struct {
	id       uuid.UUID
	duration int
	timezone string
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("component", "seed").Logger()
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	services, err := seedServices(context.Background(), pool, faker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed services")
	}
	if err := seedSlots(context.Background(), pool, faker, services, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}

	logger.Info().Msg("seed complete")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger zerolog.Logger) ([]seededService, error) {
	logger.Info().Int("count", serviceCount).Msg("seeding services")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	services := make([]seededService, 0, serviceCount)
	for i := 0; i < serviceCount; i++ {
		svc := seededService{
			id:       uuid.New(),
			duration: []int{15, 30, 45, 60}[faker.Number(0, 3)],
			timezone: timezones[faker.Number(0, len(timezones)-1)],
		}
		name := serviceKinds[i%len(serviceKinds)] + " with " + faker.LastName()

		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, duration_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, svc.id, name, svc.duration)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("services seeded")
	return services, nil
}

// seedSlots lays out slotsPerDay consecutive slots per service and day, in the
// service's local business hours.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, services []seededService, logger zerolog.Logger) error {
	total := 0
	for _, svc := range services {
		loc, err := time.LoadLocation(svc.timezone)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		today := time.Now().In(loc)
		for day := 1; day <= daysAhead; day++ {
			date := today.AddDate(0, 0, day)
			start := time.Date(date.Year(), date.Month(), date.Day(), firstSlotHour, 0, 0, 0, loc)
			for n := 0; n < slotsPerDay; n++ {
				slotStart := start.Add(time.Duration(n*svc.duration) * time.Minute)
				batch.Queue(`
					INSERT INTO appointment_slots
						(id, service_id, start_at, end_at, timezone, capacity, buffer_before_minutes, buffer_after_minutes, status)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'AVAILABLE')
				`, uuid.New(), svc.id, slotStart.UTC(), slotStart.Add(time.Duration(svc.duration)*time.Minute).UTC(),
					svc.timezone, faker.Number(1, 4), []int{0, 5, 15}[faker.Number(0, 2)], faker.Number(0, 10))
			}
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		total += batch.Len()
	}

	logger.Info().Int("count", total).Msg("slots seeded")
	return nil
}
