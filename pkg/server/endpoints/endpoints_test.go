package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/breakglass"
	"github.com/torvus-labs/torvus-console/pkg/config"
	"github.com/torvus-labs/torvus-console/pkg/db/dbtest"
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/release"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/seal"
	"github.com/torvus-labs/torvus-console/pkg/secrets"
	"github.com/torvus-labs/torvus-console/pkg/server"
)

type testServer struct {
	srv    *server.Server
	db     *gorm.DB
	audit  *audit.MemorySink
	notify *notify.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.OpenTestDB(t)
	dbtest.SeedRoles(t, db)
	staff := map[string]string{
		"alice": model.RoleInvestigator,
		"bob":   model.RoleSecurityAdmin,
		"carol": model.RoleSecurityAdmin,
		"dave":  model.RoleAdmin,
		"erin":  model.RoleAdmin,
		"sam":   model.RoleSecretsManager,
		"tina":  "",
	}
	for id, role := range staff {
		dbtest.AddStaff(t, db, id, id+"@torvus.io")
		if role != "" {
			dbtest.GrantPermanent(t, db, id, role)
		}
	}

	key, err := seal.RandomBytes(seal.KeySize)
	require.NoError(t, err)
	sealer, err := seal.New(key)
	require.NoError(t, err)

	sink := audit.NewMemorySink()
	notes := &notify.Memory{}
	authority := roles.NewAuthority(db)
	directory := identity.NewGormDirectory(db)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	srv := server.NewServer(db, config.Default(), server.Services{
		Roles:      authority,
		Directory:  directory,
		Elevations: breakglass.NewService(db, authority, sink, notes, breakglass.DefaultConfig()),
		Secrets:    secrets.NewService(db, sealer, authority, sink, notes, secrets.DefaultConfig()),
		Releases:   release.NewService(db, authority, directory, sink, notes),
		Audit:      sink,
		Notifier:   notes,
	}, registry, "127.0.0.1", "0")
	RegisterAll(srv)
	return &testServer{srv: srv, db: db, audit: sink, notify: notes}
}

// do sends a request as who (a staff id, or "" for no identity) and decodes
// a JSON response into out when out is non-nil
func (ts *testServer) do(t *testing.T, method, path, who string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if who != "" {
		req.Header.Set(config.DefaultIdentityHeader, who+"@torvus.io")
	}
	w := httptest.NewRecorder()
	ts.srv.Router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestStatusAndHealth(t *testing.T) {
	ts := newTestServer(t)

	var status StatusResponse
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/", "", nil, &status))
	assert.Equal(t, "torvus-console", status.Service)

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/healthz", "", nil, &status))
	assert.Equal(t, "ok", status.Database)

	sqlDB, err := ts.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, "GET", "/healthz", "", nil, &status))
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	ts.srv.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWhoami(t *testing.T) {
	ts := newTestServer(t)

	var me WhoamiResponse
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/me", "bob", nil, &me))
	assert.Equal(t, "bob", me.PrincipalID)
	assert.Equal(t, []string{model.RoleSecurityAdmin}, me.Roles)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/me", "mallory", nil, nil))
}

func TestElevationFlow(t *testing.T) {
	ts := newTestServer(t)

	var created map[string]string
	code := ts.do(t, "POST", "/api/elevations", "alice", CreateElevationRequest{
		TargetID: "tina",
		Roles:    []string{model.RoleInvestigator},
		Reason:   "incident INC-7",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	id := created["id"]
	require.NotEmpty(t, id)

	var failure map[string]interface{}
	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/elevations/"+id+"/approve", "alice", nil, &failure))
	assert.Equal(t, "self_approval", failure["code"])

	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/elevations/"+id+"/approve", "dave", nil, nil))

	var res breakglass.ApproveResult
	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/elevations/"+id+"/approve", "bob", nil, &res))
	assert.False(t, res.Executed)

	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/elevations/"+id+"/approve", "bob", nil, &failure))
	assert.Equal(t, "already_decided", failure["code"])

	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/elevations/"+id+"/approve", "carol", nil, &res))
	assert.True(t, res.Executed)
	assert.Equal(t, model.StatusExecuted, res.Status)

	var view map[string]interface{}
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/elevations/"+id, "tina", nil, &view))
	assert.Equal(t, model.StatusExecuted, view["status"])
	assert.Len(t, view["approvals"], 2)

	var me WhoamiResponse
	ts.do(t, "GET", "/api/me", "tina", nil, &me)
	assert.Contains(t, me.Roles, model.RoleInvestigator)

	var revoked map[string]bool
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/elevations/"+id+"/revoke", "alice", nil, nil))
	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/elevations/"+id+"/revoke", "bob", nil, &revoked))
	assert.True(t, revoked["revoked"])

	var list []map[string]interface{}
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/elevations?status=revoked", "bob", nil, &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/elevations/nope", "bob", nil, nil))
}

func TestElevationBadInput(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/elevations", bytes.NewBufferString("{not json"))
	req.Header.Set(config.DefaultIdentityHeader, "alice@torvus.io")
	w := httptest.NewRecorder()
	ts.srv.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/elevations", "alice", CreateElevationRequest{TargetID: "tina", Reason: "r"}, nil))
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/elevations", "tina", CreateElevationRequest{TargetID: "alice", Roles: []string{"admin"}, Reason: "r"}, nil))
}

func TestSecretFlowAndReveal(t *testing.T) {
	ts := newTestServer(t)

	var created map[string]string
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/secrets/requests", "sam", SecretChangeBody{
		Action: "create", Key: "api-key", Environment: "prod", Value: "sk_live_abcdef123456", Reason: "new vendor",
	}, &created))
	createID := created["id"]

	var view map[string]interface{}
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/secrets/requests/"+createID, "bob", nil, &view))
	assert.NotContains(t, view, "ciphertext")
	assert.NotContains(t, view, "value")

	var res secrets.ApproveResult
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/secrets/requests/"+createID+"/approve", "bob", nil, &res))
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/secrets/requests/"+createID+"/approve", "carol", nil, &res))
	assert.Equal(t, model.StatusApplied, res.Status)

	var preview secrets.Preview
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/secrets/prod/api-key/preview", "bob", nil, &preview))
	assert.Equal(t, "****************3456", preview.Masked)
	assert.Equal(t, http.StatusForbidden, ts.do(t, "GET", "/api/secrets/prod/api-key/preview", "dave", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/secrets/prod/nope/preview", "bob", nil, nil))

	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/secrets/requests", "sam", SecretChangeBody{
		Action: "reveal", Key: "api-key", Environment: "prod", Reason: "debugging",
	}, &created))
	revealID := created["id"]

	assert.Equal(t, http.StatusGone, ts.do(t, "POST", "/api/secrets/requests/"+revealID+"/reveal", "sam", nil, nil))
	ts.do(t, "POST", "/api/secrets/requests/"+revealID+"/approve", "bob", nil, &res)
	ts.do(t, "POST", "/api/secrets/requests/"+revealID+"/approve", "carol", nil, &res)
	assert.Equal(t, model.StatusApproved, res.Status)

	var revealed secrets.Revealed
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/secrets/requests/"+revealID+"/reveal", "sam", nil, &revealed))
	assert.Equal(t, "sk_live_abcdef123456", revealed.Value)
	assert.Equal(t, http.StatusGone, ts.do(t, "POST", "/api/secrets/requests/"+revealID+"/reveal", "sam", nil, nil))

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/secrets/requests", "sam", SecretChangeBody{Action: "delete", Key: "api-key", Environment: "prod", Reason: "r"}, nil))
	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/secrets/requests", "sam", SecretChangeBody{Action: "create", Key: "api-key", Environment: "prod", Value: "x", Reason: "r"}, nil))
}

func TestReleaseFlow(t *testing.T) {
	ts := newTestServer(t)

	var created map[string]string
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/releases", "dave", CreateReleaseRequest{Title: "v3.0.0"}, &created))
	id := created["id"]

	var res release.DecideResult
	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/releases/"+id+"/decision", "dave", DecisionRequest{Decision: "approve"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/releases/"+id+"/decision", "erin", DecisionRequest{Decision: "maybe"}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/releases/"+id+"/decision", "erin", DecisionRequest{Decision: "approve"}, &res))
	assert.Equal(t, model.StatusPending, res.Status)

	assert.Equal(t, http.StatusConflict, ts.do(t, "POST", "/api/releases/"+id+"/execute", "erin", nil, nil))

	var list []release.View
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/releases", "erin", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Approvals)
}

func TestAlertIntake(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	var created map[string]string
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/secrets/requests", "sam", SecretChangeBody{
		Action: "create", Key: "webhook/pagerduty", Environment: "prod", Value: "pd-signing-secret", Reason: "alerting",
	}, &created))
	ts.do(t, "POST", "/api/secrets/requests/"+created["id"]+"/approve", "bob", nil, nil)
	ts.do(t, "POST", "/api/secrets/requests/"+created["id"]+"/approve", "carol", nil, nil)

	body := []byte(`{"summary":"disk full","severity":"critical"}`)
	send := func(integration, signature string) int {
		req := httptest.NewRequest("POST", "/api/alerts/"+integration, bytes.NewReader(body)).WithContext(ctx)
		if signature != "" {
			req.Header.Set(notify.SignatureHeader, signature)
		}
		w := httptest.NewRecorder()
		ts.srv.Router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusAccepted, send("pagerduty", notify.Sign(body, "pd-signing-secret")))
	assert.Equal(t, http.StatusUnauthorized, send("pagerduty", notify.Sign(body, "wrong")))
	assert.Equal(t, http.StatusUnauthorized, send("pagerduty", ""))
	assert.Equal(t, http.StatusUnauthorized, send("opsgenie", notify.Sign(body, "pd-signing-secret")))

	assert.Equal(t, 1, ts.audit.Count("alert.received"))
	assert.Equal(t, 0, ts.audit.Count("secret.retrieved"))
	events := ts.notify.Events()
	last := events[len(events)-1]
	assert.Equal(t, notify.EventAlertReceived, last.Name)
	assert.Equal(t, "pagerduty", last.Payload["integration"])
}
