package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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
	"github.com/torvus-labs/torvus-console/pkg/sweep"
)

// stack is everything a running console needs
type stack struct {
	cfg        *config.Config
	db         *gorm.DB
	auditStore *audit.Store
	dispatcher *notify.Dispatcher
	registry   *prometheus.Registry
	services   server.Services
}

// buildStack connects to the databases and wires the workflows from cfg
func buildStack(cfg *config.Config) (*stack, error) {
	sealer, err := seal.FromEnv()
	if err != nil {
		return nil, err
	}

	gdb, err := db.Connect(db.Config{})
	if err != nil {
		return nil, err
	}

	auditDB, err := db.OpenAudit(db.AuditURL())
	if err != nil {
		return nil, err
	}
	store := audit.NewStore(auditDB)
	sink := audit.NewRecorder(audit.NewLogger(), store, cfg.AuditEnabled)

	channels, err := notify.ChannelsFromConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to configure notifications: %w", err)
	}
	dispatcher := notify.NewDispatcher(channels...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	authority := roles.NewAuthority(gdb)
	directory := identity.NewGormDirectory(gdb)

	return &stack{
		cfg:        cfg,
		db:         gdb,
		auditStore: store,
		dispatcher: dispatcher,
		registry:   registry,
		services: server.Services{
			Roles:     authority,
			Directory: directory,
			Elevations: breakglass.NewService(gdb, authority, sink, dispatcher, breakglass.Config{
				DefaultWindowMinutes: cfg.ElevationDefaultWindowMinutes,
				MaxWindowMinutes:     cfg.ElevationMaxWindowMinutes,
			}),
			Secrets: secrets.NewService(gdb, sealer, authority, sink, dispatcher, secrets.Config{
				RequestTTL: cfg.SecretRequestTTL(),
			}),
			Releases: release.NewService(gdb, authority, directory, sink, dispatcher),
			Audit:    sink,
			Notifier: dispatcher,
		},
	}, nil
}

// sweepJobs are the workflows whose requests can go stale
func (s *stack) sweepJobs() []sweep.Job {
	return []sweep.Job{
		{Name: "elevation", Expirer: s.services.Elevations},
		{Name: "secret", Expirer: s.services.Secrets},
	}
}

func (s *stack) Close() {
	_ = s.auditStore.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Reload()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
