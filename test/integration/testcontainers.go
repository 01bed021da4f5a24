package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/breakglass"
	"github.com/torvus-labs/torvus-console/pkg/config"
	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/release"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/seal"
	"github.com/torvus-labs/torvus-console/pkg/secrets"
	"github.com/torvus-labs/torvus-console/pkg/server"
	"github.com/torvus-labs/torvus-console/pkg/server/endpoints"
)

// TestContext holds the resources shared by every scenario
type TestContext struct {
	DB            *gorm.DB
	AuditDB       *sql.DB
	AuditStore    *audit.Store
	Container     testcontainers.Container
	DatabaseURL   string
	MigrationsDir string
	Sealer        *seal.AESGCM
	HTTPClient    *http.Client
}

// NewTestContext starts PostgreSQL in a container and migrates it
func NewTestContext(ctx context.Context) (*TestContext, error) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}
	migrationsDir := filepath.Join(projectRoot, "db", "migrations")

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("torvus_test"),
		tcpostgres.WithUsername("torvus"),
		tcpostgres.WithPassword("torvus"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	if err := migrateUp(migrationsDir, connStr); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	gdb, err := db.Connect(db.Config{URL: connStr})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	auditDB, err := db.OpenAudit(connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	key, err := seal.RandomBytes(seal.KeySize)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}
	sealer, err := seal.New(key)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, err
	}

	return &TestContext{
		DB:            gdb,
		AuditDB:       auditDB,
		AuditStore:    audit.NewStore(auditDB),
		Container:     pgContainer,
		DatabaseURL:   connStr,
		MigrationsDir: migrationsDir,
		Sealer:        sealer,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// ScenarioServer is a console instance for one scenario. Each gets its own
// notifier so assertions see only that scenario's events.
type ScenarioServer struct {
	Server   *server.Server
	HTTP     *httptest.Server
	Notifier *notify.Memory
}

// StartServer wires the full stack against the shared database
func (tc *TestContext) StartServer() *ScenarioServer {
	logger := audit.NewLogger()
	logger.SetWriter(io.Discard)
	sink := audit.NewRecorder(logger, tc.AuditStore, true)
	notes := &notify.Memory{}

	authority := roles.NewAuthority(tc.DB)
	directory := identity.NewGormDirectory(tc.DB)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	s := server.NewServer(tc.DB, config.Default(), server.Services{
		Roles:      authority,
		Directory:  directory,
		Elevations: breakglass.NewService(tc.DB, authority, sink, notes, breakglass.DefaultConfig()),
		Secrets:    secrets.NewService(tc.DB, tc.Sealer, authority, sink, notes, secrets.DefaultConfig()),
		Releases:   release.NewService(tc.DB, authority, directory, sink, notes),
		Audit:      sink,
		Notifier:   notes,
	}, registry, "127.0.0.1", "0")
	endpoints.RegisterAll(s)

	return &ScenarioServer{
		Server:   s,
		HTTP:     httptest.NewServer(s.Handler()),
		Notifier: notes,
	}
}

// Reset empties every table except the seeded role catalog. TRUNCATE does
// not fire the audit row triggers.
func (tc *TestContext) Reset(ctx context.Context) error {
	return tc.DB.WithContext(ctx).Exec(`TRUNCATE staff, audit_events RESTART IDENTITY CASCADE`).Error
}

// Close cleans up all test resources
func (tc *TestContext) Close(ctx context.Context) {
	if tc.AuditStore != nil {
		_ = tc.AuditStore.Close()
	}
	if tc.DB != nil {
		if sqlDB, err := tc.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if tc.Container != nil {
		_ = tc.Container.Terminate(ctx)
	}
}

func migrateUp(dir, dbURL string) error {
	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// findProjectRoot locates the project root directory
func findProjectRoot() (string, error) {
	paths := []string{
		"../..",
		"..",
		".",
	}

	for _, p := range paths {
		goMod := filepath.Join(p, "go.mod")
		if _, err := os.Stat(goMod); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", fmt.Errorf("project root not found (looking for go.mod)")
}
