package endpoints

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/server"
)

// StatusResponse is returned by / and /healthz
type StatusResponse struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
	Database    string `json:"database,omitempty"`
}

// RegisterStatusEndpoints registers the status, health and metrics endpoints
func RegisterStatusEndpoints(s *server.Server) {
	s.Router.HandleFunc("/", handleStatus(s.Config.Environment)).Methods("GET")
	s.Router.HandleFunc("/healthz", handleHealth(s.DB, s.Config.Environment)).Methods("GET")

	if s.Config.MetricsEnabled && s.Registry != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

func version() string {
	if v := os.Getenv("TORVUS_VERSION"); v != "" {
		return v
	}
	return "0.1.0"
}

func handleStatus(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, StatusResponse{
			Service:     "torvus-console",
			Version:     version(),
			Environment: env,
			Status:      "ok",
		})
	}
}

func handleHealth(db *gorm.DB, env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{Service: "torvus-console", Version: version(), Environment: env, Status: "ok", Database: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx, db); err != nil {
			resp.Status = "error"
			resp.Database = "unreachable"
			respondWithJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		respondWithJSON(w, http.StatusOK, resp)
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
