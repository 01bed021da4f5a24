package quorum

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

// Vote is one recorded decision
type Vote struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger stores decisions, at most one per approver per request
type Ledger interface {
	// Insert records a decision. A second decision by the same approver
	// fails with sentinel.ErrAlreadyDecided.
	Insert(ctx context.Context, requestID, approverID string, d Decision, at time.Time) error
	// Count tallies distinct approvers by decision, ignoring excludeID.
	Count(ctx context.Context, requestID, excludeID string) (Tally, error)
	// Votes lists decisions in the order they were cast.
	Votes(ctx context.Context, requestID string) ([]Vote, error)
}

// GormLedger keeps decisions in one *_approvals table
type GormLedger struct {
	db    *gorm.DB
	table string
}

var _ Ledger = (*GormLedger)(nil)

// NewGormLedger creates a ledger over table, e.g. "elevation_approvals"
func NewGormLedger(db *gorm.DB, table string) *GormLedger {
	return &GormLedger{db: db, table: table}
}

// WithTx returns a ledger over the same table that runs on tx
func (l *GormLedger) WithTx(tx *gorm.DB) *GormLedger {
	return &GormLedger{db: tx, table: l.table}
}

func (l *GormLedger) Insert(ctx context.Context, requestID, approverID string, d Decision, at time.Time) error {
	row := model.Approval{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		ApproverID: approverID,
		Decision:   string(d),
		CreatedAt:  at,
	}
	err := l.db.WithContext(ctx).Table(l.table).Create(&row).Error
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%s already decided on %s: %w", approverID, requestID, sentinel.ErrAlreadyDecided)
	}
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (l *GormLedger) Count(ctx context.Context, requestID, excludeID string) (Tally, error) {
	var rows []struct {
		Decision string
		N        int
	}
	err := l.db.WithContext(ctx).Table(l.table).
		Select("decision, COUNT(DISTINCT approver_id) AS n").
		Where("request_id = ? AND approver_id <> ?", requestID, excludeID).
		Group("decision").
		Scan(&rows).Error
	if err != nil {
		return Tally{}, fmt.Errorf("failed to tally decisions: %w", err)
	}

	var t Tally
	for _, r := range rows {
		switch Decision(r.Decision) {
		case Approve:
			t.Approvals = r.N
		case Reject:
			t.Rejections = r.N
		}
	}
	return t, nil
}

func (l *GormLedger) Votes(ctx context.Context, requestID string) ([]Vote, error) {
	var rows []model.Approval
	err := l.db.WithContext(ctx).Table(l.table).
		Where("request_id = ?", requestID).
		Order("created_at, approver_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load decisions: %w", err)
	}
	votes := make([]Vote, 0, len(rows))
	for _, r := range rows {
		votes = append(votes, Vote{ApproverID: r.ApproverID, Decision: Decision(r.Decision), CreatedAt: r.CreatedAt})
	}
	return votes, nil
}
