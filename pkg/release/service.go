package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

const (
	workflow   = "release"
	targetType = "release_request"

	maxTitleLength = 200
)

// Policy is the release approval policy
var Policy = quorum.Policy{
	Name:            workflow,
	Required:        2,
	ApproverRoles:   []string{model.RoleAdmin},
	OpenStatuses:    []string{model.StatusPending},
	AllowReject:     true,
	RejectDominates: true,
	TargetType:      targetType,
	ApprovedAction:  "release.decision_approve",
	RejectedAction:  "release.decision_reject",
}

type Service struct {
	db        *gorm.DB
	roles     roles.Checker
	engine    *quorum.Engine
	ledger    *quorum.GormLedger
	directory identity.Directory
	audit     audit.Sink
	notifier  notify.Notifier
	now       func() time.Time
}

func NewService(db *gorm.DB, checker roles.Checker, directory identity.Directory, sink audit.Sink, notifier notify.Notifier) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ledger := quorum.NewGormLedger(db, "release_approvals")
	return &Service{
		db:        db,
		roles:     checker,
		engine:    quorum.NewEngine(Policy, ledger, checker, sink),
		ledger:    ledger,
		directory: directory,
		audit:     sink,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

type CreateInput struct {
	Title       string
	Description string
	RequesterID string
}

// DecideResult reports the release after a decision
type DecideResult struct {
	Status     string `json:"status"`
	Approvals  int    `json:"approvals"`
	Rejections int    `json:"rejections"`
}

// Create opens a pending release request
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	if in.RequesterID == "" {
		return "", fmt.Errorf("requester is required: %w", sentinel.ErrUnauthenticated)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", sentinel.Invalid("title is required")
	}
	if len(title) > maxTitleLength {
		return "", sentinel.Invalid("title must be at most %d characters", maxTitleLength)
	}

	req := model.ReleaseRequest{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		RequesterID: in.RequesterID,
		Status:      model.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", fmt.Errorf("failed to create release request: %w", err)
	}
	metrics.IncTransition(workflow, model.StatusPending)
	s.audit.Log(ctx, audit.Entry{
		Action:     "release.requested",
		TargetType: targetType,
		TargetID:   req.ID,
		Meta:       map[string]any{"title": title},
	})
	return req.ID, nil
}

// Decide records approverID's decision. A reject moves the release to
// rejected at once; the second approve with no rejects moves it to approved.
// The decision is written and the release settled while the release row is
// held, so a decision never lands on an already settled release.
func (s *Service) Decide(ctx context.Context, id, approverID string, d quorum.Decision) (DecideResult, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return DecideResult{}, err
	}
	if err := s.engine.Authorize(ctx, quorumRequest(req), approverID, d); err != nil {
		return decideFailure(err)
	}

	now := s.now()
	var tally quorum.Tally
	var outcome string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// no-op write that takes the row lock while the release is pending
		hold := tx.Model(&model.ReleaseRequest{}).
			Where("id = ? AND status = ?", id, model.StatusPending).
			Update("status", model.StatusPending)
		if hold.Error != nil {
			return fmt.Errorf("failed to lock release: %w", hold.Error)
		}
		if hold.RowsAffected == 0 {
			var current model.ReleaseRequest
			if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
				return fmt.Errorf("failed to load release: %w", err)
			}
			return sentinel.NewStateError("decide on", current.Status)
		}

		tally, err = s.engine.Record(ctx, s.ledger.WithTx(tx), quorumRequest(req), approverID, d)
		if err != nil {
			return err
		}
		outcome = s.engine.Outcome(tally)
		updates := map[string]interface{}{"decided_at": now}
		if outcome != model.StatusPending {
			updates["status"] = outcome
		}
		if err := tx.Model(&model.ReleaseRequest{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update release: %w", err)
		}
		return nil
	})
	if err != nil {
		return decideFailure(err)
	}

	s.engine.AuditDecision(ctx, quorumRequest(req), approverID, d, tally)
	if outcome != model.StatusPending {
		s.settled(ctx, req, outcome, now)
	}
	return DecideResult{Status: outcome, Approvals: tally.Approvals, Rejections: tally.Rejections}, nil
}

func decideFailure(err error) (DecideResult, error) {
	var se *sentinel.StateError
	if errors.As(err, &se) {
		return DecideResult{Status: se.Status}, err
	}
	return DecideResult{}, err
}

// settled audits and announces a terminal decision
func (s *Service) settled(ctx context.Context, req *model.ReleaseRequest, outcome string, at time.Time) {
	metrics.IncTransition(workflow, outcome)

	votes, err := s.engine.Ledger().Votes(ctx, req.ID)
	if err != nil {
		logging.WithFields(logrus.Fields{"release_id": req.ID}).WithError(err).Warn("release: failed to load votes for notification")
	}
	ids := []string{req.RequesterID}
	for _, v := range votes {
		ids = append(ids, v.ApproverID)
	}
	emails := map[string]string{}
	if s.directory != nil {
		if emails, err = s.directory.EmailsFor(ctx, ids); err != nil {
			logging.WithFields(logrus.Fields{"release_id": req.ID}).WithError(err).Warn("release: failed to resolve emails")
			emails = map[string]string{}
		}
	}
	emailOf := func(id string) string {
		if e, ok := emails[id]; ok {
			return e
		}
		return id
	}

	approvers := []string{}
	rejecters := []string{}
	for _, v := range votes {
		if v.Decision == quorum.Reject {
			rejecters = append(rejecters, emailOf(v.ApproverID))
		} else {
			approvers = append(approvers, emailOf(v.ApproverID))
		}
	}

	action := "release.approved"
	event := notify.EventReleaseApproved
	if outcome == model.StatusRejected {
		action = "release.rejected"
		event = notify.EventReleaseRejected
	}
	s.audit.Log(ctx, audit.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   req.ID,
		Meta:       map[string]any{"approvers": approvers, "rejecters": rejecters},
	})
	s.notifier.Send(ctx, notify.Event{
		Name:       event,
		OccurredAt: at,
		Payload: map[string]any{
			"request_id":      req.ID,
			"title":           req.Title,
			"requester_email": emailOf(req.RequesterID),
			"approvers":       approvers,
			"rejecters":       rejecters,
		},
	})
}

// MarkExecuted records that an approved release has shipped
func (s *Service) MarkExecuted(ctx context.Context, id, by string) error {
	now := s.now()
	ok, err := s.roles.HasRoleAt(ctx, by, model.RoleAdmin, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("executing a release requires admin: %w", sentinel.ErrForbidden)
	}

	res := s.db.WithContext(ctx).Model(&model.ReleaseRequest{}).
		Where("id = ? AND status = ?", id, model.StatusApproved).
		Updates(map[string]interface{}{
			"status":      model.StatusExecuted,
			"executed_at": now,
			"executed_by": by,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark release executed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		return sentinel.NewStateError("execute", current.Status)
	}
	metrics.IncTransition(workflow, model.StatusExecuted)
	s.audit.Log(ctx, audit.Entry{
		Action:     "release.executed",
		TargetType: targetType,
		TargetID:   id,
		Meta:       map[string]any{"executed_by": by},
	})
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*model.ReleaseRequest, error) {
	var req model.ReleaseRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("release %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load release: %w", err)
	}
	return &req, nil
}

func quorumRequest(r *model.ReleaseRequest) quorum.Request {
	return quorum.Request{ID: r.ID, RequesterID: r.RequesterID, Status: r.Status}
}
