package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/torvus-labs/torvus-console/pkg/breakglass"
	"github.com/torvus-labs/torvus-console/pkg/server"
)

// CreateElevationRequest is the body of POST /api/elevations
type CreateElevationRequest struct {
	TargetID      string   `json:"target_id"`
	Roles         []string `json:"roles"`
	Reason        string   `json:"reason"`
	TicketRef     string   `json:"ticket_ref"`
	WindowMinutes int      `json:"window_minutes"`
}

// RegisterElevationEndpoints registers the break-glass routes
func RegisterElevationEndpoints(s *server.Server, api *mux.Router) {
	svc := s.Elevations

	api.HandleFunc("/elevations", handleCreateElevation(svc)).Methods("POST")
	api.HandleFunc("/elevations", handleListElevations(svc)).Methods("GET")
	api.HandleFunc("/elevations/{id}", handleGetElevation(svc)).Methods("GET")
	api.HandleFunc("/elevations/{id}/approve", handleApproveElevation(svc)).Methods("POST")
	api.HandleFunc("/elevations/{id}/revoke", handleRevokeElevation(svc)).Methods("POST")
}

func handleCreateElevation(svc *breakglass.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		var body CreateElevationRequest
		if err := decodeBody(r, &body); err != nil {
			respondWithFailure(w, r, err)
			return
		}

		requestID, err := svc.CreateRequest(r.Context(), breakglass.CreateInput{
			RequesterID:   id.PrincipalID,
			TargetID:      body.TargetID,
			Roles:         body.Roles,
			Reason:        body.Reason,
			TicketRef:     body.TicketRef,
			WindowMinutes: body.WindowMinutes,
		})
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, map[string]string{"id": requestID})
	}
}

func handleListElevations(svc *breakglass.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		views, err := svc.List(r.Context(), breakglass.ListFilter{
			Status:      q.Get("status"),
			RequesterID: q.Get("requester_id"),
			TargetID:    q.Get("target_id"),
			Limit:       queryLimit(r),
		})
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, views)
	}
}

func handleGetElevation(svc *breakglass.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, view)
	}
}

func handleApproveElevation(svc *breakglass.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		res, err := svc.ApproveRequest(r.Context(), mux.Vars(r)["id"], id.PrincipalID)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, res)
	}
}

func handleRevokeElevation(svc *breakglass.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		revoked, err := svc.RevokeRequest(r.Context(), mux.Vars(r)["id"], id.PrincipalID)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
	}
}
