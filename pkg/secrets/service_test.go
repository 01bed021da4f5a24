package secrets

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/db/dbtest"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/seal"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

type fixture struct {
	svc    *Service
	db     *gorm.DB
	audit  *audit.MemorySink
	notify *notify.Memory
	clock  time.Time
}

// A proposes (secrets_manager); B, C and D approve; E holds no role.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.OpenTestDB(t)
	dbtest.SeedRoles(t, db)
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		dbtest.AddStaff(t, db, id, id+"@torvus.io")
	}
	dbtest.GrantPermanent(t, db, "A", model.RoleSecretsManager)
	dbtest.GrantPermanent(t, db, "B", model.RoleSecurityAdmin)
	dbtest.GrantPermanent(t, db, "C", model.RoleSecretsManager)
	dbtest.GrantPermanent(t, db, "D", model.RoleSecurityAdmin)

	key, err := seal.RandomBytes(seal.KeySize)
	require.NoError(t, err)
	sealer, err := seal.New(key)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		audit:  audit.NewMemorySink(),
		notify: &notify.Memory{},
		clock:  time.Now().UTC().Truncate(time.Microsecond),
	}
	f.svc = NewService(db, sealer, roles.NewAuthority(db), f.audit, f.notify, DefaultConfig())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) approveAll(t *testing.T, id string, approvers ...string) ApproveResult {
	t.Helper()
	var res ApproveResult
	var err error
	for _, a := range approvers {
		res, err = f.svc.Approve(context.Background(), id, a)
		require.NoError(t, err)
	}
	return res
}

// createSecret runs a create through the workflow and returns the secret
func (f *fixture) createSecret(t *testing.T, key, env, value string) model.Secret {
	t.Helper()
	id, err := f.svc.ProposeCreate(context.Background(), ProposeInput{
		Key: key, Environment: env, Value: []byte(value), Reason: "bootstrap", RequesterID: "A",
	})
	require.NoError(t, err)
	res := f.approveAll(t, id, "B", "C")
	require.Equal(t, model.StatusApplied, res.Status)
	return f.secret(t, key, env)
}

func (f *fixture) secret(t *testing.T, key, env string) model.Secret {
	t.Helper()
	var s model.Secret
	require.NoError(t, f.db.First(&s, "key = ? AND environment = ?", key, env).Error)
	return s
}

func (f *fixture) request(t *testing.T, id string) model.SecretChangeRequest {
	t.Helper()
	var r model.SecretChangeRequest
	require.NoError(t, f.db.First(&r, "id = ?", id).Error)
	return r
}

func TestScenarioCreateThenThirdApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.ProposeCreate(ctx, ProposeInput{
		Key: "api-key", Environment: "prod", Value: []byte("s3cr3t-value"), Reason: "new integration", RequesterID: "A",
	})
	require.NoError(t, err)

	res, err := f.svc.Approve(ctx, id, "B")
	require.NoError(t, err)
	assert.Equal(t, ApproveResult{Status: model.StatusPending, Approvals: 1}, res)

	res, err = f.svc.Approve(ctx, id, "C")
	require.NoError(t, err)
	assert.Equal(t, ApproveResult{Status: model.StatusApplied, Approvals: 2}, res)

	s := f.secret(t, "api-key", "prod")
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, "A", s.CreatedBy)

	res, err = f.svc.Approve(ctx, id, "D")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApplied, res.Status)

	var count int64
	require.NoError(t, f.db.Model(&model.Secret{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.audit.Count("secret.applied"))
	assert.Equal(t, []string{notify.EventSecretApplied}, f.notify.Names())

	got, err := f.svc.GetDecrypted(ctx, "api-key", "prod", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-value", got.Value)
}

func TestProposalStoresOnlyCiphertext(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.ProposeCreate(context.Background(), ProposeInput{
		Key: "db-password", Environment: "staging", Value: []byte("hunter2-hunter2"), Reason: "r", RequesterID: "A",
	})
	require.NoError(t, err)

	r := f.request(t, id)
	assert.NotEmpty(t, r.Ciphertext)
	assert.NotEmpty(t, r.Nonce)
	assert.False(t, bytes.Contains(r.Ciphertext, []byte("hunter2")))
	require.NotNil(t, r.AAD)
	assert.Equal(t, "staging/db-password", *r.AAD)
	assert.Nil(t, r.BaseVersion)
}

func TestProposeExistenceChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "v1-value")

	_, err := f.svc.ProposeCreate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("x"), Reason: "r", RequesterID: "A"})
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	_, err = f.svc.ProposeRotate(ctx, ProposeInput{Key: "missing", Environment: "prod", Value: []byte("x"), Reason: "r", RequesterID: "A"})
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))

	_, err = f.svc.ProposeReveal(ctx, "missing", "prod", "r", "A")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))

	id, err := f.svc.ProposeRotate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("v2-value"), Reason: "r", RequesterID: "A"})
	require.NoError(t, err)
	r := f.request(t, id)
	require.NotNil(t, r.BaseVersion)
	assert.Equal(t, 1, *r.BaseVersion)
}

func TestProposeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ProposeInput
		want error
	}{
		{"no requester", ProposeInput{Key: "k", Environment: "prod", Value: []byte("v"), Reason: "r"}, sentinel.ErrUnauthenticated},
		{"bad key", ProposeInput{Key: "has space", Environment: "prod", Value: []byte("v"), Reason: "r", RequesterID: "A"}, sentinel.ErrInvalidInput},
		{"bad environment", ProposeInput{Key: "k", Environment: "Prod!", Value: []byte("v"), Reason: "r", RequesterID: "A"}, sentinel.ErrInvalidInput},
		{"no reason", ProposeInput{Key: "k", Environment: "prod", Value: []byte("v"), Reason: " ", RequesterID: "A"}, sentinel.ErrInvalidInput},
		{"no value", ProposeInput{Key: "k", Environment: "prod", Reason: "r", RequesterID: "A"}, sentinel.ErrInvalidInput},
		{"requester without role", ProposeInput{Key: "k", Environment: "prod", Value: []byte("v"), Reason: "r", RequesterID: "E"}, sentinel.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ProposeCreate(ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestApproveRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.ProposeCreate(ctx, ProposeInput{Key: "k", Environment: "prod", Value: []byte("v"), Reason: "r", RequesterID: "A"})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, id, "A")
	assert.True(t, errors.Is(err, sentinel.ErrSelfApproval))

	_, err = f.svc.Approve(ctx, id, "E")
	assert.True(t, errors.Is(err, sentinel.ErrForbidden))

	_, err = f.svc.Approve(ctx, id, "B")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, id, "B")
	assert.True(t, errors.Is(err, sentinel.ErrAlreadyDecided))

	_, err = f.svc.Approve(ctx, "missing", "B")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestConcurrentRotateIncrementsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "first-value")

	id, err := f.svc.ProposeRotate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("second-value"), Reason: "rotation", RequesterID: "A"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, approver := range []string{"B", "C", "D"} {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, id, approver)
			assert.NoError(t, err)
		}(approver)
	}
	wg.Wait()

	s := f.secret(t, "api-key", "prod")
	assert.Equal(t, 2, s.Version)
	require.NotNil(t, s.LastRotatedAt)
	assert.Equal(t, model.StatusApplied, f.request(t, id).Status)

	got, err := f.svc.GetDecrypted(ctx, "api-key", "prod", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second-value", got.Value)
	assert.Equal(t, 2, f.audit.Count("secret.applied"), "one for the create, one for the rotate")
}

func TestRotateOnStaleBaseConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "first-value")

	first, err := f.svc.ProposeRotate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("second-value"), Reason: "r", RequesterID: "A"})
	require.NoError(t, err)
	second, err := f.svc.ProposeRotate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("third-value"), Reason: "r", RequesterID: "A"})
	require.NoError(t, err)

	f.approveAll(t, first, "B", "C")

	_, err = f.svc.Approve(ctx, second, "B")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, second, "C")
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	assert.Equal(t, model.StatusPending, f.request(t, second).Status, "failed apply rolls back the claim")
	s := f.secret(t, "api-key", "prod")
	assert.Equal(t, 2, s.Version)
}

func TestConsumeReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "live-value")

	id, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "debugging", "A")
	require.NoError(t, err)

	got, err := f.svc.ConsumeReveal(ctx, id, "A")
	require.NoError(t, err)
	assert.Nil(t, got, "not approved yet")

	res := f.approveAll(t, id, "B", "C")
	assert.Equal(t, model.StatusApproved, res.Status)
	r := f.request(t, id)
	require.NotNil(t, r.AppliedAt)

	res, err = f.svc.Approve(ctx, id, "D")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Status)

	got, err = f.svc.ConsumeReveal(ctx, id, "B")
	require.NoError(t, err)
	assert.Nil(t, got, "only the requester may consume")

	got, err = f.svc.ConsumeReveal(ctx, id, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "live-value", got.Value)
	assert.Equal(t, 1, got.Version)

	got, err = f.svc.ConsumeReveal(ctx, id, "A")
	require.NoError(t, err)
	assert.Nil(t, got, "reveal is single use")

	assert.Equal(t, model.StatusApplied, f.request(t, id).Status)
	assert.Equal(t, 1, f.audit.Count("secret.revealed"))
	assert.NotNil(t, f.secret(t, "api-key", "prod").LastAccessedAt)
}

func TestConsumeRevealWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "live-value")

	id, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "debugging", "A")
	require.NoError(t, err)
	f.approveAll(t, id, "B", "C")

	f.clock = f.clock.Add(10*time.Minute + time.Second)
	got, err := f.svc.ConsumeReveal(ctx, id, "A")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, model.StatusApproved, f.request(t, id).Status)

	f.clock = f.clock.Add(-2 * time.Second)
	got, err = f.svc.ConsumeReveal(ctx, id, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestGetDecryptedSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "webhook/pagerduty", "prod", "signing-key")

	_, err := f.svc.GetDecrypted(ctx, "webhook/pagerduty", "prod", ReadOptions{SkipAudit: true, SkipTouch: true})
	require.NoError(t, err)
	assert.Equal(t, 0, f.audit.Count("secret.retrieved"))
	assert.Nil(t, f.secret(t, "webhook/pagerduty", "prod").LastAccessedAt)

	_, err = f.svc.GetDecrypted(ctx, "webhook/pagerduty", "prod", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.audit.Count("secret.retrieved"))
	assert.NotNil(t, f.secret(t, "webhook/pagerduty", "prod").LastAccessedAt)

	_, err = f.svc.GetDecrypted(ctx, "nope", "prod", ReadOptions{})
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.createSecret(t, "api-key", "prod", "sk_live_1234567890")

	p, err := f.svc.Preview(context.Background(), "api-key", "prod")
	require.NoError(t, err)
	assert.Equal(t, "**************7890", p.Masked)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 0, f.audit.Count("secret.retrieved"))
	assert.Nil(t, f.secret(t, "api-key", "prod").LastAccessedAt)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "********", Mask("12345678"))
	assert.Equal(t, "*****6789", Mask("123456789"))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "live-value")

	stale, err := f.svc.ProposeRotate(ctx, ProposeInput{Key: "api-key", Environment: "prod", Value: []byte("next"), Reason: "r", RequesterID: "A"})
	require.NoError(t, err)
	reveal, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "r", "A")
	require.NoError(t, err)
	f.approveAll(t, reveal, "B", "C")

	f.clock = f.clock.Add(time.Hour)
	fresh, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "r", "A")
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the reveal window has closed")
	assert.Equal(t, model.StatusExpired, f.request(t, reveal).Status)

	n, err = f.svc.ExpireStale(ctx, f.clock.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusExpired, f.request(t, stale).Status)
	assert.Equal(t, model.StatusPending, f.request(t, fresh).Status)

	res, err := f.svc.Approve(ctx, stale, "B")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, res.Status)
}

func TestRevealWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "live-value")

	onTime, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "r", "A")
	require.NoError(t, err)
	f.approveAll(t, onTime, "B", "C")
	late, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "r", "A")
	require.NoError(t, err)
	f.approveAll(t, late, "B", "C")
	closes := f.clock.Add(f.svc.cfg.RevealWindow)

	n, err := f.svc.ExpireStale(ctx, closes)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the window includes its last instant")

	f.clock = closes
	got, err := f.svc.ConsumeReveal(ctx, onTime, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "live-value", got.Value)

	n, err = f.svc.ExpireStale(ctx, closes.Add(time.Microsecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusExpired, f.request(t, late).Status)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createSecret(t, "api-key", "prod", "v")
	f.clock = f.clock.Add(time.Minute)
	_, err := f.svc.ProposeReveal(ctx, "api-key", "prod", "r", "A")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{Environment: "prod"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.svc.List(ctx, ListFilter{Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.ActionReveal, pending[0].Action)

	view, err := f.svc.Get(ctx, all[len(all)-1].ID)
	require.NoError(t, err)
	assert.Len(t, view.Approvals, 2)
}
