package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/secrets"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
	"github.com/torvus-labs/torvus-console/pkg/server"
)

// SecretChangeBody is the body of POST /api/secrets/requests. Value is
// ignored for reveals.
type SecretChangeBody struct {
	Action      string `json:"action"`
	Key         string `json:"key"`
	Environment string `json:"environment"`
	Value       string `json:"value"`
	Reason      string `json:"reason"`
	AAD         string `json:"aad"`
}

func RegisterSecretsEndpoints(s *server.Server, api *mux.Router) {
	svc := s.Secrets

	api.HandleFunc("/secrets/requests", handleProposeSecretChange(svc)).Methods("POST")
	api.HandleFunc("/secrets/requests", handleListSecretChanges(svc)).Methods("GET")
	api.HandleFunc("/secrets/requests/{id}", handleGetSecretChange(svc)).Methods("GET")
	api.HandleFunc("/secrets/requests/{id}/approve", handleApproveSecretChange(svc)).Methods("POST")
	api.HandleFunc("/secrets/requests/{id}/reveal", handleConsumeReveal(svc)).Methods("POST")

	// keys may contain slashes
	api.HandleFunc("/secrets/{env}/{key:.+}/preview", handlePreviewSecret(svc)).Methods("GET")
}

func handleProposeSecretChange(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		var body SecretChangeBody
		if err := decodeBody(r, &body); err != nil {
			respondWithFailure(w, r, err)
			return
		}

		in := secrets.ProposeInput{
			Key:         body.Key,
			Environment: body.Environment,
			Value:       []byte(body.Value),
			Reason:      body.Reason,
			RequesterID: id.PrincipalID,
			AAD:         body.AAD,
		}
		var requestID string
		switch body.Action {
		case model.ActionCreate:
			requestID, err = svc.ProposeCreate(r.Context(), in)
		case model.ActionRotate:
			requestID, err = svc.ProposeRotate(r.Context(), in)
		case model.ActionReveal:
			requestID, err = svc.ProposeReveal(r.Context(), body.Key, body.Environment, body.Reason, id.PrincipalID)
		default:
			err = sentinel.Invalid("action must be create, rotate or reveal")
		}
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, map[string]string{"id": requestID})
	}
}

func handleListSecretChanges(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		views, err := svc.List(r.Context(), secrets.ListFilter{
			Status:      q.Get("status"),
			Environment: q.Get("environment"),
			Key:         q.Get("key"),
			RequesterID: q.Get("requester_id"),
			Limit:       queryLimit(r),
		})
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, views)
	}
}

func handleGetSecretChange(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, view)
	}
}

func handleApproveSecretChange(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		res, err := svc.Approve(r.Context(), mux.Vars(r)["id"], id.PrincipalID)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, res)
	}
}

func handleConsumeReveal(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		revealed, err := svc.ConsumeReveal(r.Context(), mux.Vars(r)["id"], id.PrincipalID)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		if revealed == nil {
			respondWithError(w, http.StatusGone, "reveal is not available")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		respondWithJSON(w, http.StatusOK, revealed)
	}
}

func handlePreviewSecret(svc *secrets.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		if !id.HasRole(model.RoleSecurityAdmin) && !id.HasRole(model.RoleSecretsManager) {
			respondWithError(w, http.StatusForbidden, "previewing secrets requires security_admin or secrets_manager")
			return
		}
		vars := mux.Vars(r)
		preview, err := svc.Preview(r.Context(), vars["key"], vars["env"])
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, preview)
	}
}
