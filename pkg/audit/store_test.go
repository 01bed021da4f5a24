package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verifyColumns = []string{
	"id", "occurred_at", "actor_id", "actor_email", "actor_roles", "action",
	"target_type", "target_id", "resource", "source_ip", "user_agent",
	"metadata", "prev_hash", "record_hash",
}

func TestStoreAppendLinksToHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	rec := &Record{
		OccurredAt: time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC),
		ActorID:    strPtr("p-alice"),
		ActorEmail: strPtr("alice@torvus.io"),
		ActorRoles: []string{"security_admin"},
		Action:     "elevation.requested",
		TargetType: "elevation_request",
		TargetID:   "req-1",
		Metadata:   `{"roles":["investigator"]}`,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(chainLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record_hash FROM audit_events ORDER BY id DESC LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"record_hash"}).AddRow("headhash"))
	mock.ExpectQuery(`INSERT INTO audit_events`).
		WithArgs(
			rec.OccurredAt,
			rec.ActorID,
			rec.ActorEmail,
			sqlmock.AnyArg(), // actor_roles
			"elevation.requested",
			"elevation_request",
			"req-1",
			"",
			"",
			"",
			`{"roles":["investigator"]}`,
			"headhash",
			sqlmock.AnyArg(), // record_hash
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), rec))

	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "headhash", rec.PrevHash)
	want, err := computeRecordHash(rec)
	require.NoError(t, err)
	assert.Equal(t, want, rec.RecordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAppendFirstRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT record_hash`).WillReturnRows(sqlmock.NewRows([]string{"record_hash"}))
	mock.ExpectQuery(`INSERT INTO audit_events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	rec := &Record{OccurredAt: time.Now().UTC(), Action: "staff.added", Metadata: "{}"}
	require.NoError(t, NewStore(db).Append(context.Background(), rec))
	assert.Equal(t, "", rec.PrevHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAppendRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT record_hash`).WillReturnRows(sqlmock.NewRows([]string{"record_hash"}))
	mock.ExpectQuery(`INSERT INTO audit_events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewStore(db).Append(context.Background(), &Record{OccurredAt: time.Now().UTC(), Action: "x", Metadata: "{}"})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func chain(t *testing.T, recs ...*Record) {
	t.Helper()
	prev := ""
	for i, r := range recs {
		r.ID = int64(i + 1)
		r.PrevHash = prev
		h, err := computeRecordHash(r)
		require.NoError(t, err)
		r.RecordHash = h
		prev = h
	}
}

func addRow(rows *sqlmock.Rows, r *Record) {
	var actorID, actorEmail interface{}
	if r.ActorID != nil {
		actorID = *r.ActorID
	}
	if r.ActorEmail != nil {
		actorEmail = *r.ActorEmail
	}
	roles := "{}"
	if len(r.ActorRoles) > 0 {
		roles = "{" + r.ActorRoles[0] + "}"
	}
	rows.AddRow(r.ID, r.OccurredAt, actorID, actorEmail, roles, r.Action,
		r.TargetType, r.TargetID, r.Resource, r.SourceIP, r.UserAgent,
		r.Metadata, r.PrevHash, r.RecordHash)
}

func testChain(t *testing.T) []*Record {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	recs := []*Record{
		{OccurredAt: at, ActorID: strPtr("p-a"), ActorEmail: strPtr("a@torvus.io"), ActorRoles: []string{"investigator"}, Action: "elevation.requested", TargetID: "r1", Metadata: "{}"},
		{OccurredAt: at.Add(time.Second), ActorID: strPtr("p-b"), ActorEmail: strPtr("b@torvus.io"), Action: "elevation.approved", TargetID: "r1", Metadata: `{"approvals":1}`},
		{OccurredAt: at.Add(2 * time.Second), Action: "elevation.expired", TargetID: "r1", Metadata: "{}"},
	}
	chain(t, recs...)
	return recs
}

func TestStoreVerifyIntactChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recs := testChain(t)
	rows := sqlmock.NewRows(verifyColumns)
	for _, r := range recs {
		addRow(rows, r)
	}
	mock.ExpectQuery(`SELECT id, occurred_at`).WillReturnRows(rows)

	result, err := NewStore(db).Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, int64(3), result.HeadID)
	assert.Equal(t, recs[2].RecordHash, result.Head)
}

func TestStoreVerifyDetectsTampering(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recs := testChain(t)
	recs[1].Metadata = `{"approvals":2}`

	rows := sqlmock.NewRows(verifyColumns)
	for _, r := range recs {
		addRow(rows, r)
	}
	mock.ExpectQuery(`SELECT id, occurred_at`).WillReturnRows(rows)

	result, err := NewStore(db).Verify(context.Background())
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.ErrorContains(t, err, "record 2")
	assert.Equal(t, 1, result.Checked)
}

func TestStoreVerifyDetectsDeletion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	recs := testChain(t)
	rows := sqlmock.NewRows(verifyColumns)
	addRow(rows, recs[0])
	addRow(rows, recs[2])
	mock.ExpectQuery(`SELECT id, occurred_at`).WillReturnRows(rows)

	_, err = NewStore(db).Verify(context.Background())
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.ErrorContains(t, err, "does not link")
}
