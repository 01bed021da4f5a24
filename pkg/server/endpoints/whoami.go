package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/torvus-labs/torvus-console/pkg/server"
)

// WhoamiResponse represents the response from /api/me
type WhoamiResponse struct {
	PrincipalID string   `json:"principal_id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	RequestID   string   `json:"request_id"`
}

// RegisterWhoamiEndpoint registers GET /api/me
func RegisterWhoamiEndpoint(s *server.Server, api *mux.Router) {
	api.HandleFunc("/me", handleWhoami()).Methods("GET")
}

func handleWhoami() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		roles := id.Roles
		if roles == nil {
			roles = []string{}
		}
		respondWithJSON(w, http.StatusOK, WhoamiResponse{
			PrincipalID: id.PrincipalID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			Roles:       roles,
			RequestID:   id.RequestID,
		})
	}
}
