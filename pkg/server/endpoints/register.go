package endpoints

import (
	"github.com/gorilla/mux"

	"github.com/torvus-labs/torvus-console/pkg/server"
)

// RegisterAll registers all API endpoints on the server
func RegisterAll(srv *server.Server) {
	RegisterStatusEndpoints(srv)
	// alert intake authenticates by signature, so it is registered on the
	// root router ahead of the identity-checked /api subrouter
	RegisterAlertEndpoints(srv)

	api := apiRouter(srv)
	RegisterWhoamiEndpoint(srv, api)
	RegisterElevationEndpoints(srv, api)
	RegisterSecretsEndpoints(srv, api)
	RegisterReleaseEndpoints(srv, api)
}

func apiRouter(srv *server.Server) *mux.Router {
	api := srv.Router.PathPrefix("/api").Subrouter()
	api.Use(srv.Identity.Middleware)
	return api
}
