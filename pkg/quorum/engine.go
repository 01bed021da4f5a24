package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

// Decision is an approver's verdict
type Decision string

const (
	Approve Decision = model.DecisionApprove
	Reject  Decision = model.DecisionReject
)

// Valid reports whether d is approve or reject
func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// Policy parameterizes an Engine for one workflow
type Policy struct {
	// Name labels metrics and prefixes audit actions
	Name string
	// Required distinct approvals, excluding the requester
	Required int
	// ApproverRoles an approver must hold one of; empty allows any principal
	ApproverRoles []string
	// OpenStatuses still accept decisions
	OpenStatuses []string
	// AllowReject permits reject decisions
	AllowReject bool
	// RejectDominates makes a single reject decide the outcome
	RejectDominates bool
	// TargetType is the audit target type
	TargetType string
	// ApprovedAction and RejectedAction override the per-decision audit
	// actions, which default to <Name>.approved and <Name>.rejected
	ApprovedAction string
	RejectedAction string
}

func (p Policy) isOpen(status string) bool {
	for _, s := range p.OpenStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p Policy) actionFor(d Decision) string {
	if d == Reject {
		if p.RejectedAction != "" {
			return p.RejectedAction
		}
		return p.Name + ".rejected"
	}
	if p.ApprovedAction != "" {
		return p.ApprovedAction
	}
	return p.Name + ".approved"
}

// Request is the part of a workflow request the engine needs
type Request struct {
	ID          string
	RequesterID string
	Status      string
}

// Tally counts distinct approvers by decision
type Tally struct {
	Approvals  int `json:"approvals"`
	Rejections int `json:"rejections"`
}

// Engine records decisions and evaluates quorum for one Policy
type Engine struct {
	policy         Policy
	ledger         Ledger
	roles          roles.Checker
	audit          audit.Sink
	now            func() time.Time
	singleApprover bool
}

// NewEngine creates an engine for policy
func NewEngine(policy Policy, ledger Ledger, checker roles.Checker, sink audit.Sink) *Engine {
	if sink == nil {
		sink = audit.Nop{}
	}
	e := &Engine{
		policy:         policy,
		ledger:         ledger,
		roles:          checker,
		audit:          sink,
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		singleApprover: SingleApproverOverride(),
	}
	if e.singleApprover {
		logging.WithFields(logrus.Fields{
			"workflow": policy.Name,
			"required": policy.Required,
		}).Warn("DEV SINGLE-APPROVER OVERRIDE ACTIVE: dual control is relaxed to one approval")
	}
	return e
}

// Policy returns the engine's policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Ledger returns the engine's approval ledger
func (e *Engine) Ledger() Ledger {
	return e.ledger
}

// RecordDecision checks that approverID may decide on req and records the
// decision. It returns the tally re-read after the insert.
func (e *Engine) RecordDecision(ctx context.Context, req Request, approverID string, d Decision) (Tally, error) {
	if err := e.Authorize(ctx, req, approverID, d); err != nil {
		return Tally{}, err
	}
	tally, err := e.Record(ctx, e.ledger, req, approverID, d)
	if err != nil {
		return Tally{}, err
	}
	e.AuditDecision(ctx, req, approverID, d, tally)
	return tally, nil
}

// Authorize checks that approverID may cast d on req as it was loaded
func (e *Engine) Authorize(ctx context.Context, req Request, approverID string, d Decision) error {
	if approverID == "" {
		return fmt.Errorf("approver is required: %w", sentinel.ErrUnauthenticated)
	}
	if !d.Valid() || (d == Reject && !e.policy.AllowReject) {
		return sentinel.Invalid("decision %q is not accepted", d)
	}
	if approverID == req.RequesterID {
		return fmt.Errorf("cannot decide on own %s request: %w", e.policy.Name, sentinel.ErrSelfApproval)
	}
	if !e.policy.isOpen(req.Status) {
		return sentinel.NewStateError("decide on", req.Status)
	}
	if len(e.policy.ApproverRoles) == 0 {
		return nil
	}
	ok, err := e.roles.HasAnyRoleAt(ctx, approverID, e.policy.ApproverRoles, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("approver lacks an approver role for %s: %w", e.policy.Name, sentinel.ErrForbidden)
	}
	return nil
}

// Record inserts an authorized decision into l and re-reads the tally from
// it. Callers that hold the request row inside a transaction pass a ledger
// bound to that transaction.
func (e *Engine) Record(ctx context.Context, l Ledger, req Request, approverID string, d Decision) (Tally, error) {
	if err := l.Insert(ctx, req.ID, approverID, d, e.now()); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyDecided) {
			metrics.IncDecisionConflict(e.policy.Name)
		}
		return Tally{}, err
	}
	metrics.IncDecision(e.policy.Name, string(d))
	return l.Count(ctx, req.ID, req.RequesterID)
}

// AuditDecision logs the per-decision audit entry
func (e *Engine) AuditDecision(ctx context.Context, req Request, approverID string, d Decision, tally Tally) {
	e.audit.Log(ctx, audit.Entry{
		Action:     e.policy.actionFor(d),
		TargetType: e.policy.TargetType,
		TargetID:   req.ID,
		Meta: map[string]any{
			"approver_id": approverID,
			"decision":    string(d),
			"approvals":   tally.Approvals,
			"rejections":  tally.Rejections,
		},
	})
}

// Tally counts distinct approvers for req, never counting the requester
func (e *Engine) Tally(ctx context.Context, req Request) (Tally, error) {
	return e.ledger.Count(ctx, req.ID, req.RequesterID)
}

// QuorumMet reports whether t has enough approvals
func (e *Engine) QuorumMet(t Tally) bool {
	required := e.policy.Required
	if e.singleApprover && required > 1 && t.Approvals >= 1 && t.Approvals < required {
		logging.WithFields(logrus.Fields{
			"workflow":  e.policy.Name,
			"approvals": t.Approvals,
			"required":  required,
		}).Warn("dev single-approver override satisfied quorum")
		return true
	}
	return t.Approvals >= required
}

// Outcome maps a tally to pending, approved or rejected
func (e *Engine) Outcome(t Tally) string {
	if e.policy.RejectDominates && t.Rejections > 0 {
		return model.StatusRejected
	}
	if e.QuorumMet(t) {
		return model.StatusApproved
	}
	return model.StatusPending
}
