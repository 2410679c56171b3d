package database

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/internal/models"
)

// Connect opens the PostgreSQL connection backing C2.
func Connect(cfg config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate runs the schema migrations for §3's data model.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("failed to create uuid extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Shop{},
		&models.Service{},
		&models.Professional{},
		&models.Reservation{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes adds the composite indexes the commit protocol and
// availability queries rely on beyond what GORM struct tags express.
func createIndexes(db *gorm.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_reservations_shop_date_status ON reservations(shop_id, date, status)",
		"CREATE INDEX IF NOT EXISTS idx_reservations_phone_status ON reservations(customer_phone, status)",
		"CREATE INDEX IF NOT EXISTS idx_reservations_professional_date ON reservations(professional_id, date, status)",
		"CREATE INDEX IF NOT EXISTS idx_services_shop_active ON services(shop_id, active)",
		"CREATE INDEX IF NOT EXISTS idx_professionals_shop_active ON professionals(shop_id, active)",
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// ConnectRedis opens the shared Redis connection backing C1's redis
// backend, the rate limiters, and advisory slot locks.
func ConnectRedis(cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return client, nil
}
