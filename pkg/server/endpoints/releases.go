package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/torvus-labs/torvus-console/pkg/quorum"
	"github.com/torvus-labs/torvus-console/pkg/release"
	"github.com/torvus-labs/torvus-console/pkg/server"
)

type CreateReleaseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type DecisionRequest struct {
	Decision string `json:"decision"`
}

func RegisterReleaseEndpoints(s *server.Server, api *mux.Router) {
	svc := s.Releases

	api.HandleFunc("/releases", handleCreateRelease(svc)).Methods("POST")
	api.HandleFunc("/releases", handleListReleases(svc)).Methods("GET")
	api.HandleFunc("/releases/{id}", handleGetRelease(svc)).Methods("GET")
	api.HandleFunc("/releases/{id}/decision", handleDecideRelease(svc)).Methods("POST")
	api.HandleFunc("/releases/{id}/execute", handleExecuteRelease(svc)).Methods("POST")
}

func handleCreateRelease(svc *release.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		var body CreateReleaseRequest
		if err := decodeBody(r, &body); err != nil {
			respondWithFailure(w, r, err)
			return
		}
		releaseID, err := svc.Create(r.Context(), release.CreateInput{
			Title:       body.Title,
			Description: body.Description,
			RequesterID: id.PrincipalID,
		})
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusCreated, map[string]string{"id": releaseID})
	}
}

func handleListReleases(svc *release.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		views, err := svc.List(r.Context(), release.ListFilter{
			Status:      q.Get("status"),
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

func handleGetRelease(svc *release.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, view)
	}
}

func handleDecideRelease(svc *release.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		var body DecisionRequest
		if err := decodeBody(r, &body); err != nil {
			respondWithFailure(w, r, err)
			return
		}
		res, err := svc.Decide(r.Context(), mux.Vars(r)["id"], id.PrincipalID, quorum.Decision(body.Decision))
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, res)
	}
}

func handleExecuteRelease(svc *release.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := caller(r)
		if err != nil {
			respondWithFailure(w, r, err)
			return
		}
		if err := svc.MarkExecuted(r.Context(), mux.Vars(r)["id"], id.PrincipalID); err != nil {
			respondWithFailure(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "executed"})
	}
}
