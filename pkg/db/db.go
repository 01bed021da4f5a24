package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// uniqueViolation is the SQLSTATE postgres reports for a unique index conflict
const uniqueViolation = "23505"

// Config holds database connection configuration
type Config struct {
	// URL is the database connection URL (defaults to DATABASE_URL env var)
	URL string
}

// Connect establishes a database connection.
// If no URL is provided, it reads from DATABASE_URL environment variable.
func Connect(cfg Config) (*gorm.DB, error) {
	dbURL := cfg.URL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Default to silent logging unless TORVUS_LOG_LEVEL=debug is set
	logMode := logger.Silent
	if os.Getenv("TORVUS_LOG_LEVEL") == "debug" {
		logMode = logger.Info
	}

	db, err := gorm.Open(
		postgres.New(postgres.Config{
			DSN:                  dbURL,
			PreferSimpleProtocol: true, // disables implicit prepared statement usage
		}),
		&gorm.Config{
			Logger:         logger.Default.LogMode(logMode),
			TranslateError: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// OpenAudit opens the plain database/sql handle used by the audit store.
// It falls back to DATABASE_URL when AUDIT_DATABASE_URL is unset.
func OpenAudit(url string) (*sql.DB, error) {
	if url == "" {
		url = AuditURL()
	}
	if url == "" {
		return nil, fmt.Errorf("AUDIT_DATABASE_URL or DATABASE_URL is required")
	}
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return conn, nil
}

// URL returns the database URL from environment.
// Returns empty string if DATABASE_URL is not set.
func URL() string {
	return os.Getenv("DATABASE_URL")
}

// AuditURL returns AUDIT_DATABASE_URL, or DATABASE_URL when it is unset
func AuditURL() string {
	if url := os.Getenv("AUDIT_DATABASE_URL"); url != "" {
		return url
	}
	return URL()
}

// IsUniqueViolation reports whether err comes from a unique index conflict.
// It recognises gorm's translated error as well as a raw postgres error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
