package breakglass

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

const (
	workflow   = "elevation"
	targetType = "elevation_request"
)

// RequesterRoles may open an elevation request
var RequesterRoles = []string{model.RoleInvestigator, model.RoleSecurityAdmin}

// Policy is the dual-control policy for elevation requests
var Policy = quorum.Policy{
	Name:          workflow,
	Required:      2,
	ApproverRoles: []string{model.RoleSecurityAdmin},
	OpenStatuses:  []string{model.StatusPending, model.StatusApproved},
	TargetType:    targetType,
}

// RoleAuthority is what the workflow needs from the role store
type RoleAuthority interface {
	roles.Checker
	EnsureRoles(ctx context.Context, names []string) error
	GrantTemporaryRole(ctx context.Context, g roles.Grant) error
	EndTemporaryRole(ctx context.Context, principalID, role string, at time.Time) (bool, error)
}

// Config bounds request windows
type Config struct {
	DefaultWindowMinutes int
	MaxWindowMinutes     int
}

// DefaultConfig matches the configuration defaults
func DefaultConfig() Config {
	return Config{DefaultWindowMinutes: 60, MaxWindowMinutes: 480}
}

// Service runs the break-glass workflow
type Service struct {
	db       *gorm.DB
	roles    RoleAuthority
	engine   *quorum.Engine
	audit    audit.Sink
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

// NewService wires the workflow. The engine is built from Policy over the
// elevation_approvals ledger.
func NewService(db *gorm.DB, authority RoleAuthority, sink audit.Sink, notifier notify.Notifier, cfg Config) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		db:       db,
		roles:    authority,
		engine:   quorum.NewEngine(Policy, quorum.NewGormLedger(db, "elevation_approvals"), authority, sink),
		audit:    sink,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// CreateInput is a new elevation request
type CreateInput struct {
	RequesterID   string
	TargetID      string
	Roles         []string
	Reason        string
	TicketRef     string
	WindowMinutes int // zero selects the configured default
}

// ApproveResult reports the effect of one approval
type ApproveResult struct {
	Approvals int    `json:"approvals"`
	Executed  bool   `json:"executed"`
	Status    string `json:"status"`
}

// CreateRequest validates and stores a pending request and returns its id
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (string, error) {
	if in.RequesterID == "" {
		return "", fmt.Errorf("requester is required: %w", sentinel.ErrUnauthenticated)
	}
	target := strings.TrimSpace(in.TargetID)
	if target == "" {
		return "", sentinel.Invalid("target is required")
	}
	requested := normalizeRoles(in.Roles)
	if len(requested) == 0 {
		return "", sentinel.Invalid("at least one role is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return "", sentinel.Invalid("reason is required")
	}
	window := in.WindowMinutes
	if window == 0 {
		window = s.cfg.DefaultWindowMinutes
	}
	if window <= 0 {
		return "", sentinel.Invalid("window must be positive, got %d", window)
	}
	if s.cfg.MaxWindowMinutes > 0 && window > s.cfg.MaxWindowMinutes {
		return "", sentinel.Invalid("window must be at most %d minutes", s.cfg.MaxWindowMinutes)
	}
	var ticket *string
	if t := strings.TrimSpace(in.TicketRef); t != "" {
		if err := validateTicketRef(t); err != nil {
			return "", err
		}
		ticket = &t
	}

	now := s.now()
	ok, err := s.roles.HasAnyRoleAt(ctx, in.RequesterID, RequesterRoles, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("requester must hold investigator or security_admin: %w", sentinel.ErrForbidden)
	}
	if err := s.roles.EnsureRoles(ctx, requested); err != nil {
		return "", err
	}
	if err := s.ensureStaff(ctx, target); err != nil {
		return "", err
	}

	req := model.ElevationRequest{
		ID:            uuid.NewString(),
		RequesterID:   in.RequesterID,
		TargetID:      target,
		Roles:         model.StringList(requested),
		Reason:        reason,
		TicketRef:     ticket,
		WindowMinutes: window,
		Status:        model.StatusPending,
		CreatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", fmt.Errorf("failed to create elevation request: %w", err)
	}
	metrics.IncTransition(workflow, model.StatusPending)

	meta := map[string]any{
		"target_id": target,
		"roles":     requested,
		"window":    window,
		"reason":    reason,
	}
	if ticket != nil {
		meta["ticket"] = *ticket
	}
	s.audit.Log(ctx, audit.Entry{
		Action:     "elevation.requested",
		TargetType: targetType,
		TargetID:   req.ID,
		Meta:       meta,
	})
	return req.ID, nil
}

// ApproveRequest records approverID's approval and executes the request
// once quorum is reached
func (s *Service) ApproveRequest(ctx context.Context, requestID, approverID string) (ApproveResult, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return ApproveResult{}, err
	}
	if approverID == req.RequesterID {
		return ApproveResult{}, fmt.Errorf("cannot approve own elevation: %w", sentinel.ErrSelfApproval)
	}
	switch req.Status {
	case model.StatusRejected, model.StatusRevoked, model.StatusExpired, model.StatusExecuted:
		return ApproveResult{Status: req.Status}, sentinel.NewStateError("approve", req.Status)
	}

	tally, err := s.engine.RecordDecision(ctx, quorumRequest(req), approverID, quorum.Approve)
	if err != nil {
		return ApproveResult{}, err
	}

	executed, err := s.MaybeExecute(ctx, requestID)
	if err != nil {
		return ApproveResult{Approvals: tally.Approvals}, err
	}

	status := model.StatusPending
	if executed {
		status = model.StatusExecuted
	} else if current, err := s.load(ctx, requestID); err == nil {
		status = current.Status
	}
	return ApproveResult{Approvals: tally.Approvals, Executed: executed, Status: status}, nil
}

// MaybeExecute grants the requested roles once quorum is met. It is safe to
// call any number of times from any number of callers.
func (s *Service) MaybeExecute(ctx context.Context, requestID string) (bool, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req.Status == model.StatusExecuted {
		return true, nil
	}
	if req.Status != model.StatusPending && req.Status != model.StatusApproved {
		return false, nil
	}

	tally, err := s.engine.Tally(ctx, quorumRequest(req))
	if err != nil {
		return false, err
	}
	if !s.engine.QuorumMet(tally) {
		return false, nil
	}

	// best effort, a concurrent caller may already be past approved
	if err := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).Where("id = ? AND status = ?", requestID, model.StatusPending).
		Update("status", model.StatusApproved).Error; err != nil {
		return false, fmt.Errorf("failed to mark approved: %w", err)
	}

	now := s.now()
	claim := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).
		Where("id = ? AND status IN ? AND executed_at IS NULL", requestID, []string{model.StatusApproved, model.StatusPending}).
		Updates(map[string]interface{}{"status": model.StatusExecuted, "executed_at": now})
	if claim.Error != nil {
		return false, fmt.Errorf("failed to claim execution: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		current, err := s.load(ctx, requestID)
		if err != nil {
			return false, err
		}
		return current.Status == model.StatusExecuted, nil
	}

	granted := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		grant := roles.Grant{
			TargetID:      req.TargetID,
			Role:          role,
			Minutes:       req.WindowMinutes,
			Justification: req.Reason,
			TicketRef:     req.TicketRef,
		}
		if err := s.roles.GrantTemporaryRole(ctx, grant); err != nil {
			s.endGrants(ctx, req, granted)
			s.revertClaim(ctx, requestID)
			return false, fmt.Errorf("failed to grant %s: %w", role, err)
		}
		granted = append(granted, role)
	}

	// a revoke may have landed while the grants were being written
	held, err := s.stillExecuted(ctx, requestID)
	if err != nil {
		return false, err
	}
	if !held {
		s.endGrants(ctx, req, granted)
		return false, nil
	}
	metrics.IncTransition(workflow, model.StatusExecuted)

	s.audit.Log(ctx, audit.Entry{
		Action:     "elevation.executed",
		TargetType: targetType,
		TargetID:   requestID,
		Meta: map[string]any{
			"target_id": req.TargetID,
			"roles":     []string(req.Roles),
			"window":    req.WindowMinutes,
			"approvals": tally.Approvals,
		},
	})
	s.notifier.Send(ctx, notify.Event{
		Name:       notify.EventElevationExecuted,
		OccurredAt: now,
		Payload: map[string]any{
			"request_id":   requestID,
			"requester_id": req.RequesterID,
			"target_id":    req.TargetID,
			"roles":        []string(req.Roles),
			"window":       req.WindowMinutes,
		},
	})
	return true, nil
}

// revertClaim hands a failed execution back to approved so it can be retried
func (s *Service) revertClaim(ctx context.Context, requestID string) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&model.ElevationRequest{}).
		Where("id = ? AND status = ?", requestID, model.StatusExecuted).
		Updates(map[string]interface{}{"status": model.StatusApproved, "executed_at": nil}).Error
	if err != nil {
		logging.WithFields(logrus.Fields{"request_id": requestID}).
			WithError(err).Error("breakglass: failed to revert execution claim")
	}
}

// stillExecuted reports whether the request still holds its execution claim
func (s *Service) stillExecuted(ctx context.Context, requestID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).
		Where("id = ? AND status = ?", requestID, model.StatusExecuted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to recheck execution: %w", err)
	}
	return count > 0, nil
}

// endGrants closes the break-glass grants written by an execution attempt
// that did not complete
func (s *Service) endGrants(ctx context.Context, req *model.ElevationRequest, granted []string) {
	ctx = context.WithoutCancel(ctx)
	at := s.now()
	for _, role := range granted {
		if _, err := s.roles.EndTemporaryRole(ctx, req.TargetID, role, at); err != nil {
			logging.WithFields(logrus.Fields{"request_id": req.ID, "role": role}).
				WithError(err).Error("breakglass: failed to end grant from incomplete execution")
		}
	}
}

// RevokeRequest marks a request revoked. It reports false when the request
// is unknown or already revoked.
func (s *Service) RevokeRequest(ctx context.Context, requestID, byUserID string) (bool, error) {
	now := s.now()
	ok, err := s.roles.HasRoleAt(ctx, byUserID, model.RoleSecurityAdmin, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("revoking requires security_admin: %w", sentinel.ErrForbidden)
	}

	res := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).
		Where("id = ? AND status <> ?", requestID, model.StatusRevoked).
		Update("status", model.StatusRevoked)
	if res.Error != nil {
		return false, fmt.Errorf("failed to revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	metrics.IncTransition(workflow, model.StatusRevoked)

	req, err := s.load(ctx, requestID)
	if err != nil {
		return true, err
	}

	var ended []string
	if req.ExecutedAt != nil {
		for _, role := range req.Roles {
			done, err := s.roles.EndTemporaryRole(ctx, req.TargetID, role, now)
			if err != nil {
				return true, fmt.Errorf("revoked but failed to end %s: %w", role, err)
			}
			if done {
				ended = append(ended, role)
			}
		}
	}

	s.audit.Log(ctx, audit.Entry{
		Action:     "elevation.revoked",
		TargetType: targetType,
		TargetID:   requestID,
		Meta: map[string]any{
			"target_id":    req.TargetID,
			"was_executed": req.ExecutedAt != nil,
			"grants_ended": ended,
		},
	})
	s.notifier.Send(ctx, notify.Event{
		Name:       notify.EventElevationRevoked,
		OccurredAt: now,
		Payload: map[string]any{
			"request_id": requestID,
			"revoked_by": byUserID,
			"target_id":  req.TargetID,
			"roles":      []string(req.Roles),
		},
	})
	return true, nil
}

func (s *Service) load(ctx context.Context, id string) (*model.ElevationRequest, error) {
	var req model.ElevationRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("elevation request %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load elevation request: %w", err)
	}
	return &req, nil
}

func (s *Service) ensureStaff(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Staff{}).Where("id = ? AND active = ?", id, true).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up target: %w", err)
	}
	if count == 0 {
		return sentinel.Invalid("target %s is not an active staff member", id)
	}
	return nil
}

func quorumRequest(r *model.ElevationRequest) quorum.Request {
	return quorum.Request{ID: r.ID, RequesterID: r.RequesterID, Status: r.Status}
}

// normalizeRoles trims, drops empties and de-duplicates, keeping first-seen order
func normalizeRoles(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func validateTicketRef(ref string) error {
	u, err := url.Parse(ref)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return sentinel.Invalid("ticket reference must be an http(s) URL")
	}
	return nil
}
