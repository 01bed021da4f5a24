package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/torvus-labs/torvus-console/pkg/config"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/server"
	"github.com/torvus-labs/torvus-console/pkg/server/endpoints"
	"github.com/torvus-labs/torvus-console/pkg/server/middleware"
	"github.com/torvus-labs/torvus-console/pkg/sweep"
)

const shutdownTimeout = 20 * time.Second

func defaultBindAddress() string {
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		return addr
	}
	return "0.0.0.0"
}

func defaultPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8000"
}

func defaultPortInt() int {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
	}
	return 8000
}

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Torvus Console server",
	Long: `Run the Torvus Console server

To run the server requires the environment variables TORVUS_DATA_KEY and DATABASE_URL.

By default, database migrations are run on startup. Use --no-migrate to skip.
Notification channels are reloaded when the config file changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.FromEnv())

		if _, ok := os.LookupEnv("TORVUS_DATA_KEY"); !ok {
			fmt.Fprintln(os.Stderr, "TORVUS_DATA_KEY environment variable is required")
			os.Exit(1)
		}
		if os.Getenv("DATABASE_URL") == "" {
			fmt.Fprintln(os.Stderr, "DATABASE_URL environment variable is required")
			os.Exit(1)
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		noMigrate, _ := cmd.Flags().GetBool("no-migrate")
		if !noMigrate {
			logging.Log().Info("Running database migrations...")
			if err := runMigrations(); err != nil {
				fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
				os.Exit(1)
			}
		}

		port, _ := cmd.Flags().GetString("port")
		bindAddress, _ := cmd.Flags().GetString("bind-address")

		if err := runServer(cfg, bindAddress, port); err != nil {
			logging.Log().WithError(err).Fatal("server failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringP("port", "p", defaultPort(), "server listen port")
	serverCmd.Flags().StringP("bind-address", "b", defaultBindAddress(), "server bind address")
	serverCmd.Flags().Bool("no-migrate", false, "skip running database migrations on startup")
}

func runServer(cfg *config.Config, bindAddress, port string) error {
	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	s := server.NewServer(st.db, cfg, st.services, st.registry, bindAddress, port)
	if cfg.AccessJWTPublicKeyPath != "" {
		verifier, err := middleware.LoadAccessVerifier(cfg.AccessJWTPublicKeyPath)
		if err != nil {
			return err
		}
		s.Identity.Verifier = verifier
	}
	endpoints.RegisterAll(s)

	sweeper, err := sweep.New(cfg.SweepSchedule, st.sweepJobs()...)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchConfig(ctx, cfg.ConfigFilePath(), st.dispatcher)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Log().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// watchConfig swaps the notification channels whenever the config file
// changes. Other settings take effect on restart.
func watchConfig(ctx context.Context, path string, dispatcher *notify.Dispatcher) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Log().WithError(err).Warn("config watch disabled")
		return
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logging.Log().WithError(err).WithField("path", path).Warn("config watch disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reloadChannels(dispatcher)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Log().WithError(err).Warn("config watch error")
		}
	}
}

func reloadChannels(dispatcher *notify.Dispatcher) {
	cfg, err := config.Reload()
	if err != nil {
		logging.Log().WithError(err).Error("config reload failed, keeping previous channels")
		return
	}
	channels, err := notify.ChannelsFromConfig(cfg)
	if err != nil {
		logging.Log().WithError(err).Error("invalid notification config, keeping previous channels")
		return
	}
	dispatcher.SetChannels(channels...)
	logging.Log().WithField("channels", dispatcher.Channels()).Info("notification channels reloaded")
}
