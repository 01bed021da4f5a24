// Package server provides the HTTP server for the Torvus console API.
//
// The server uses gorilla/mux for routing and wraps every request in
// gorilla/handlers access logging. Routes live in the endpoints subpackage:
//
//	srv := server.NewServer(db, cfg, services, registry, "0.0.0.0", "8080")
//	endpoints.RegisterAll(srv)
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// Everything under /api except alert intake requires an identity resolved
// by middleware.Identity from the edge access header.
package server
