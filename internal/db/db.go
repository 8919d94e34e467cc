package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/config"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 10
	connMaxLifetime = 5 * time.Minute
)

func buildDSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPassword, sslMode,
	)
}

// NewDatabase opens the postgres pool and pings it once.
func NewDatabase(cfg *config.Config) (*sql.DB, error) {
	return openPool("postgres", buildDSN(cfg))
}

func openPool(driverName, dsn string) (*sql.DB, error) {
	pool, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// schedulers and webhook bursts share this pool with checkout
	pool.SetMaxOpenConns(maxOpenConns)
	pool.SetMaxIdleConns(maxIdleConns)
	pool.SetConnMaxLifetime(connMaxLifetime)

	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// InitDB is NewDatabase for the server entrypoint: it exits the process when
// the database is unreachable.
func InitDB(cfg *config.Config) *sql.DB {
	log := logger.L().With(zap.String("layer", "db"), zap.String("host", cfg.DBHost), zap.String("dbname", cfg.DBName))

	pool, err := NewDatabase(cfg)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	log.Info("database connection established")
	return pool
}
