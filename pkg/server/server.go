package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/breakglass"
	"github.com/torvus-labs/torvus-console/pkg/config"
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/release"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/secrets"
	"github.com/torvus-labs/torvus-console/pkg/server/middleware"
)

// Services are the workflows and collaborators the endpoints call
type Services struct {
	Roles      *roles.Authority
	Directory  identity.Directory
	Elevations *breakglass.Service
	Secrets    *secrets.Service
	Releases   *release.Service
	Audit      audit.Sink
	Notifier   notify.Notifier
}

type Server struct {
	Services
	Router   *mux.Router
	DB       *gorm.DB
	Config   *config.Config
	Registry *prometheus.Registry
	Identity *middleware.Identity
	srv      *http.Server
}

func NewServer(
	db *gorm.DB,
	cfg *config.Config,
	services Services,
	registry *prometheus.Registry,
	host string,
	port string,
) *Server {
	if services.Audit == nil {
		services.Audit = audit.Nop{}
	}
	if services.Notifier == nil {
		services.Notifier = notify.Nop{}
	}

	router := mux.NewRouter()
	srv := &http.Server{
		Handler:           handlers.LoggingHandler(logging.Writer(), router),
		Addr:              host + ":" + port,
		WriteTimeout:      15 * time.Second,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ident := &middleware.Identity{
		Header:    cfg.IdentityHeader,
		Directory: services.Directory,
		Roles:     services.Roles,
	}
	if len(cfg.TrustedProxies) > 0 {
		ident.Trusted = cfg.IsTrustedProxy
	}

	return &Server{
		Services: services,
		Router:   router,
		DB:       db,
		Config:   cfg,
		Registry: registry,
		Identity: ident,
		srv:      srv,
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	logging.Log().WithField("addr", s.srv.Addr).Info("torvus console listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler is the full handler chain, for tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
