package release

import (
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
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

type fixture struct {
	svc    *Service
	db     *gorm.DB
	audit  *audit.MemorySink
	notify *notify.Memory
}

// A requests; B, C and D are admins; E is staff without a role.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.OpenTestDB(t)
	dbtest.SeedRoles(t, db)
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		dbtest.AddStaff(t, db, id, id+"@torvus.io")
	}
	dbtest.GrantPermanent(t, db, "A", model.RoleAdmin)
	dbtest.GrantPermanent(t, db, "B", model.RoleAdmin)
	dbtest.GrantPermanent(t, db, "C", model.RoleAdmin)
	dbtest.GrantPermanent(t, db, "D", model.RoleAdmin)

	f := &fixture{db: db, audit: audit.NewMemorySink(), notify: &notify.Memory{}}
	f.svc = NewService(db, roles.NewAuthority(db), identity.NewGormDirectory(db), f.audit, f.notify)
	return f
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	id, err := f.svc.Create(context.Background(), CreateInput{Title: "v2.4.0", Description: "quarterly", RequesterID: "A"})
	require.NoError(t, err)
	return id
}

func (f *fixture) status(t *testing.T, id string) string {
	t.Helper()
	var r model.ReleaseRequest
	require.NoError(t, f.db.First(&r, "id = ?", id).Error)
	return r.Status
}

func TestTwoApprovalsApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	res, err := f.svc.Decide(ctx, id, "B", quorum.Approve)
	require.NoError(t, err)
	assert.Equal(t, DecideResult{Status: model.StatusPending, Approvals: 1}, res)
	assert.Equal(t, model.StatusPending, f.status(t, id))

	res, err = f.svc.Decide(ctx, id, "C", quorum.Approve)
	require.NoError(t, err)
	assert.Equal(t, DecideResult{Status: model.StatusApproved, Approvals: 2}, res)
	assert.Equal(t, model.StatusApproved, f.status(t, id))

	events := f.notify.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventReleaseApproved, events[0].Name)
	assert.Equal(t, "A@torvus.io", events[0].Payload["requester_email"])
	assert.Equal(t, []string{"B@torvus.io", "C@torvus.io"}, events[0].Payload["approvers"])

	assert.Equal(t, 1, f.audit.Count("release.approved"))
	assert.Equal(t, 2, f.audit.Count("release.decision_approve"))
}

func TestSingleRejectDominates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	_, err := f.svc.Decide(ctx, id, "B", quorum.Approve)
	require.NoError(t, err)

	res, err := f.svc.Decide(ctx, id, "C", quorum.Reject)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.Status)
	assert.Equal(t, 1, res.Approvals)
	assert.Equal(t, 1, res.Rejections)

	res, err = f.svc.Decide(ctx, id, "D", quorum.Approve)
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))
	assert.Equal(t, model.StatusRejected, res.Status)

	assert.Equal(t, []string{notify.EventReleaseRejected}, f.notify.Names())
	assert.Equal(t, []string{"C@torvus.io"}, f.notify.Events()[0].Payload["rejecters"])
}

func TestRejectFirst(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	res, err := f.svc.Decide(context.Background(), id, "B", quorum.Reject)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.Status)
}

func TestDecisionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	_, err := f.svc.Decide(ctx, id, "A", quorum.Approve)
	assert.True(t, errors.Is(err, sentinel.ErrSelfApproval))

	_, err = f.svc.Decide(ctx, id, "E", quorum.Approve)
	assert.True(t, errors.Is(err, sentinel.ErrForbidden))

	_, err = f.svc.Decide(ctx, id, "B", quorum.Decision("abstain"))
	assert.True(t, errors.Is(err, sentinel.ErrInvalidInput))

	_, err = f.svc.Decide(ctx, id, "B", quorum.Approve)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, id, "B", quorum.Reject)
	assert.True(t, errors.Is(err, sentinel.ErrAlreadyDecided), "decisions are immutable")
	assert.Equal(t, model.StatusPending, f.status(t, id))

	_, err = f.svc.Decide(ctx, "missing", "B", quorum.Approve)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestConcurrentDecisionsSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	var wg sync.WaitGroup
	for _, approver := range []string{"B", "C", "D"} {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, id, approver, quorum.Approve)
			if err != nil {
				assert.True(t, errors.Is(err, sentinel.ErrInvalidState), "unexpected error: %v", err)
			}
		}(approver)
	}
	wg.Wait()

	assert.Equal(t, model.StatusApproved, f.status(t, id))
	assert.Equal(t, 1, f.audit.Count("release.approved"))
	assert.Len(t, f.notify.Events(), 1)
}

// interleavingChecker runs before once, the first time principal is checked
type interleavingChecker struct {
	roles.Checker
	principal string
	once      sync.Once
	before    func()
}

func (c *interleavingChecker) HasAnyRoleAt(ctx context.Context, principalID string, names []string, asOf time.Time) (bool, error) {
	if principalID == c.principal {
		c.once.Do(c.before)
	}
	return c.Checker.HasAnyRoleAt(ctx, principalID, names, asOf)
}

func TestRejectAfterSettlementWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)
	_, err := f.svc.Decide(ctx, id, "B", quorum.Approve)
	require.NoError(t, err)

	checker := &interleavingChecker{Checker: roles.NewAuthority(f.db), principal: "D"}
	svc := NewService(f.db, checker, identity.NewGormDirectory(f.db), f.audit, f.notify)
	checker.before = func() {
		res, err := svc.Decide(ctx, id, "C", quorum.Approve)
		require.NoError(t, err)
		require.Equal(t, model.StatusApproved, res.Status)
	}

	res, err := svc.Decide(ctx, id, "D", quorum.Reject)
	var se *sentinel.StateError
	require.True(t, errors.As(err, &se), "unexpected error: %v", err)
	assert.Equal(t, model.StatusApproved, se.Status)
	assert.Equal(t, model.StatusApproved, res.Status)

	assert.Equal(t, model.StatusApproved, f.status(t, id))
	view, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Approvals)
	assert.Equal(t, 0, view.Rejections)
	assert.Equal(t, 0, f.audit.Count("release.decision_reject"))
	assert.Equal(t, 0, f.audit.Count("release.rejected"))
}

func TestMarkExecuted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t)

	err := f.svc.MarkExecuted(ctx, id, "B")
	var se *sentinel.StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, model.StatusPending, se.Status)

	_, err = f.svc.Decide(ctx, id, "B", quorum.Approve)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, id, "C", quorum.Approve)
	require.NoError(t, err)

	err = f.svc.MarkExecuted(ctx, id, "E")
	assert.True(t, errors.Is(err, sentinel.ErrForbidden))

	require.NoError(t, f.svc.MarkExecuted(ctx, id, "D"))
	view, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, view.Status)
	require.NotNil(t, view.ExecutedBy)
	assert.Equal(t, "D", *view.ExecutedBy)
	assert.Equal(t, 2, view.Approvals)

	err = f.svc.MarkExecuted(ctx, id, "D")
	assert.True(t, errors.Is(err, sentinel.ErrInvalidState))

	err = f.svc.MarkExecuted(ctx, "missing", "D")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Title: " ", RequesterID: "A"})
	assert.True(t, errors.Is(err, sentinel.ErrInvalidInput))

	_, err = f.svc.Create(ctx, CreateInput{Title: "v1"})
	assert.True(t, errors.Is(err, sentinel.ErrUnauthenticated))

	long := make([]byte, maxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.Create(ctx, CreateInput{Title: string(long), RequesterID: "A"})
	assert.True(t, errors.Is(err, sentinel.ErrInvalidInput))
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	f.create(t)
	_, err := f.svc.Decide(ctx, first, "B", quorum.Reject)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rejected, err := f.svc.List(ctx, ListFilter{Status: model.StatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, 1, rejected[0].Rejections)
}
