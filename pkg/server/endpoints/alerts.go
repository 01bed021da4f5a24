package endpoints

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/secrets"
	"github.com/torvus-labs/torvus-console/pkg/server"
)

// alertSecretEnvironment holds the per-integration signing secrets
const alertSecretEnvironment = "prod"

var integrationPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// RegisterAlertEndpoints registers POST /api/alerts/{integration}
func RegisterAlertEndpoints(s *server.Server) {
	s.Router.HandleFunc("/api/alerts/{integration}", handleAlert(s.Secrets, s.Audit, s.Notifier)).Methods("POST")
}

// handleAlert accepts an alert whose body is signed with the integration's
// webhook secret. Every rejection looks the same to the caller.
func handleAlert(svc *secrets.Service, sink audit.Sink, notifier notify.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integration := mux.Vars(r)["integration"]
		log := logging.WithFields(logrus.Fields{"integration": integration})

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil || len(body) > maxBodyBytes {
			respondWithError(w, http.StatusRequestEntityTooLarge, "alert body too large")
			return
		}
		if !integrationPattern.MatchString(integration) {
			respondWithError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		secret, err := svc.GetDecrypted(r.Context(), "webhook/"+integration, alertSecretEnvironment,
			secrets.ReadOptions{SkipAudit: true, SkipTouch: true})
		if err != nil {
			log.WithError(err).Warn("alert rejected: no signing secret")
			respondWithError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		if !notify.VerifySignature(body, secret.Value, r.Header.Get(notify.SignatureHeader)) {
			log.Warn("alert rejected: signature mismatch")
			respondWithError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		var alert interface{}
		if err := json.Unmarshal(body, &alert); err != nil {
			alert = string(body)
		}

		sink.Log(r.Context(), audit.Entry{
			Action:     "alert.received",
			TargetType: "integration",
			TargetID:   integration,
			Meta:       map[string]any{"bytes": len(body)},
		})
		notifier.Send(r.Context(), notify.Event{
			Name:       notify.EventAlertReceived,
			OccurredAt: time.Now().UTC(),
			Payload:    map[string]any{"integration": integration, "alert": alert},
		})
		respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}
