package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/notify"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
	"github.com/torvus-labs/torvus-console/pkg/roles"
	"github.com/torvus-labs/torvus-console/pkg/seal"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

const (
	workflow   = "secret"
	targetType = "secret_change_request"
)

// ProposerRoles may propose and approve secret changes
var ProposerRoles = []string{model.RoleSecurityAdmin, model.RoleSecretsManager}

// Policy is the dual-control policy for secret change requests
var Policy = quorum.Policy{
	Name:          workflow,
	Required:      2,
	ApproverRoles: ProposerRoles,
	OpenStatuses:  []string{model.StatusPending},
	TargetType:    targetType,
}

var (
	keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,127}$`)
	envPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
)

// Config holds the workflow's time limits
type Config struct {
	RequestTTL   time.Duration
	RevealWindow time.Duration
}

func DefaultConfig() Config {
	return Config{RequestTTL: 24 * time.Hour, RevealWindow: 10 * time.Minute}
}

// Service runs the secret change workflow
type Service struct {
	db       *gorm.DB
	sealer   seal.Sealer
	roles    roles.Checker
	engine   *quorum.Engine
	audit    audit.Sink
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
}

func NewService(db *gorm.DB, sealer seal.Sealer, checker roles.Checker, sink audit.Sink, notifier notify.Notifier, cfg Config) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	def := DefaultConfig()
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = def.RequestTTL
	}
	if cfg.RevealWindow <= 0 {
		cfg.RevealWindow = def.RevealWindow
	}
	return &Service{
		db:       db,
		sealer:   sealer,
		roles:    checker,
		engine:   quorum.NewEngine(Policy, quorum.NewGormLedger(db, "secret_change_approvals"), checker, sink),
		audit:    sink,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ProposeInput is a proposed create or rotate. Value is sealed before
// anything is stored.
type ProposeInput struct {
	Key         string
	Environment string
	Value       []byte
	Reason      string
	RequesterID string
	// AAD overrides the default "<env>/<key>" associated data
	AAD string
}

// ApproveResult reports the request status after an approval
type ApproveResult struct {
	Status    string `json:"status"`
	Approvals int    `json:"approvals"`
}

// ProposeCreate proposes a new secret. It fails with ErrConflict when the
// secret already exists.
func (s *Service) ProposeCreate(ctx context.Context, in ProposeInput) (string, error) {
	key, env, reason, err := s.checkProposal(ctx, in.Key, in.Environment, in.Reason, in.RequesterID)
	if err != nil {
		return "", err
	}
	if _, err := s.loadSecret(ctx, key, env); err == nil {
		return "", fmt.Errorf("secret %s/%s already exists: %w", env, key, sentinel.ErrConflict)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return "", err
	}
	return s.proposeWrite(ctx, model.ActionCreate, key, env, reason, in, nil)
}

// ProposeRotate proposes a new value for an existing secret. The current
// version is recorded and the rotation only applies on top of it.
func (s *Service) ProposeRotate(ctx context.Context, in ProposeInput) (string, error) {
	key, env, reason, err := s.checkProposal(ctx, in.Key, in.Environment, in.Reason, in.RequesterID)
	if err != nil {
		return "", err
	}
	current, err := s.loadSecret(ctx, key, env)
	if err != nil {
		return "", err
	}
	base := current.Version
	return s.proposeWrite(ctx, model.ActionRotate, key, env, reason, in, &base)
}

// ProposeReveal asks to see an existing secret once. The request carries no
// payload; the live value is read when the reveal is consumed.
func (s *Service) ProposeReveal(ctx context.Context, key, env, reason, requesterID string) (string, error) {
	key, env, reason, err := s.checkProposal(ctx, key, env, reason, requesterID)
	if err != nil {
		return "", err
	}
	if _, err := s.loadSecret(ctx, key, env); err != nil {
		return "", err
	}
	req := model.SecretChangeRequest{
		ID:          uuid.NewString(),
		Key:         key,
		Environment: env,
		Action:      model.ActionReveal,
		Reason:      reason,
		RequesterID: requesterID,
		Status:      model.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", fmt.Errorf("failed to create reveal request: %w", err)
	}
	s.created(ctx, &req)
	return req.ID, nil
}

func (s *Service) proposeWrite(ctx context.Context, action, key, env, reason string, in ProposeInput, base *int) (string, error) {
	if len(in.Value) == 0 {
		return "", sentinel.Invalid("value is required")
	}
	aad := strings.TrimSpace(in.AAD)
	if aad == "" {
		aad = defaultAAD(key, env)
	}
	ciphertext, nonce, err := s.sealer.Encrypt(in.Value, []byte(aad))
	if err != nil {
		return "", fmt.Errorf("failed to seal value: %w", err)
	}

	req := model.SecretChangeRequest{
		ID:          uuid.NewString(),
		Key:         key,
		Environment: env,
		Action:      action,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
		AAD:         &aad,
		Reason:      reason,
		RequesterID: in.RequesterID,
		Status:      model.StatusPending,
		BaseVersion: base,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", fmt.Errorf("failed to create %s request: %w", action, err)
	}
	s.created(ctx, &req)
	return req.ID, nil
}

func (s *Service) created(ctx context.Context, req *model.SecretChangeRequest) {
	metrics.IncTransition(workflow, model.StatusPending)
	meta := map[string]any{
		"action":      req.Action,
		"key":         req.Key,
		"environment": req.Environment,
		"reason":      req.Reason,
	}
	if req.BaseVersion != nil {
		meta["base_version"] = *req.BaseVersion
	}
	s.audit.Log(ctx, audit.Entry{
		Action:     "secret.request_created",
		TargetType: targetType,
		TargetID:   req.ID,
		Resource:   resource(req.Key, req.Environment),
		Meta:       meta,
	})
}

// Approve records approverID's approval and applies the change once quorum
// is reached. Approving a request that is already applied, rejected,
// expired or an approved reveal reports its status without error.
func (s *Service) Approve(ctx context.Context, requestID, approverID string) (ApproveResult, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return ApproveResult{}, err
	}
	if approverID == req.RequesterID {
		return ApproveResult{}, fmt.Errorf("cannot approve own secret change: %w", sentinel.ErrSelfApproval)
	}
	switch {
	case req.Status == model.StatusApplied,
		req.Status == model.StatusRejected,
		req.Status == model.StatusExpired,
		req.Status == model.StatusApproved && req.Action == model.ActionReveal:
		return s.settled(ctx, req)
	case req.Status != model.StatusPending:
		return ApproveResult{Status: req.Status}, sentinel.NewStateError("approve", req.Status)
	}

	tally, err := s.engine.RecordDecision(ctx, quorumRequest(req), approverID, quorum.Approve)
	if err != nil {
		return ApproveResult{}, err
	}
	if !s.engine.QuorumMet(tally) {
		return ApproveResult{Status: model.StatusPending, Approvals: tally.Approvals}, nil
	}

	status, err := s.apply(ctx, req, tally)
	if err != nil {
		return ApproveResult{Status: model.StatusPending, Approvals: tally.Approvals}, err
	}
	return ApproveResult{Status: status, Approvals: tally.Approvals}, nil
}

func (s *Service) settled(ctx context.Context, req *model.SecretChangeRequest) (ApproveResult, error) {
	tally, err := s.engine.Tally(ctx, quorumRequest(req))
	if err != nil {
		return ApproveResult{}, err
	}
	return ApproveResult{Status: req.Status, Approvals: tally.Approvals}, nil
}

// apply runs the approved change in one transaction. The request is claimed
// with a conditional update on status = pending so concurrent approvers
// crossing quorum apply it exactly once; losers get the current status back.
func (s *Service) apply(ctx context.Context, req *model.SecretChangeRequest, tally quorum.Tally) (string, error) {
	now := s.now()
	target := model.StatusApplied
	if req.Action == model.ActionReveal {
		target = model.StatusApproved
	}

	claimed := false
	version := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&model.SecretChangeRequest{}).
			Where("id = ? AND status = ?", req.ID, model.StatusPending).
			Updates(map[string]interface{}{"status": target, "applied_at": now})
		if claim.Error != nil {
			return fmt.Errorf("failed to claim request: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return nil
		}
		claimed = true

		switch req.Action {
		case model.ActionCreate:
			version = 1
			secret := model.Secret{
				ID:                  uuid.NewString(),
				Key:                 req.Key,
				Environment:         req.Environment,
				Ciphertext:          req.Ciphertext,
				Nonce:               req.Nonce,
				AAD:                 req.AAD,
				Version:             version,
				CreatedBy:           req.RequesterID,
				CreatedAt:           now,
				DualControlRequired: true,
			}
			err := tx.Create(&secret).Error
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("secret %s already exists: %w", resource(req.Key, req.Environment), sentinel.ErrConflict)
			}
			if err != nil {
				return fmt.Errorf("failed to create secret: %w", err)
			}
		case model.ActionRotate:
			if req.BaseVersion == nil {
				return fmt.Errorf("rotate request %s has no base version: %w", req.ID, sentinel.ErrInvalidState)
			}
			version = *req.BaseVersion + 1
			res := tx.Model(&model.Secret{}).
				Where("key = ? AND environment = ? AND version = ?", req.Key, req.Environment, *req.BaseVersion).
				Updates(map[string]interface{}{
					"ciphertext":      req.Ciphertext,
					"nonce":           req.Nonce,
					"aad":             req.AAD,
					"version":         version,
					"last_rotated_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to rotate secret: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("secret %s changed since version %d: %w", resource(req.Key, req.Environment), *req.BaseVersion, sentinel.ErrConflict)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !claimed {
		current, err := s.load(ctx, req.ID)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}
	metrics.IncTransition(workflow, target)

	if req.Action == model.ActionReveal {
		s.audit.Log(ctx, audit.Entry{
			Action:     "secret.reveal_approved",
			TargetType: targetType,
			TargetID:   req.ID,
			Resource:   resource(req.Key, req.Environment),
			Meta:       map[string]any{"approvals": tally.Approvals, "window_seconds": int(s.cfg.RevealWindow.Seconds())},
		})
		s.notifier.Send(ctx, notify.Event{
			Name:       notify.EventRevealApproved,
			OccurredAt: now,
			Payload: map[string]any{
				"request_id":   req.ID,
				"key":          req.Key,
				"environment":  req.Environment,
				"requester_id": req.RequesterID,
			},
		})
		return target, nil
	}

	s.audit.Log(ctx, audit.Entry{
		Action:     "secret.applied",
		TargetType: targetType,
		TargetID:   req.ID,
		Resource:   resource(req.Key, req.Environment),
		Meta:       map[string]any{"action": req.Action, "version": version, "approvals": tally.Approvals},
	})
	s.notifier.Send(ctx, notify.Event{
		Name:       notify.EventSecretApplied,
		OccurredAt: now,
		Payload: map[string]any{
			"request_id":   req.ID,
			"key":          req.Key,
			"environment":  req.Environment,
			"action":       req.Action,
			"version":      version,
			"requester_id": req.RequesterID,
		},
	})
	return target, nil
}

func (s *Service) checkProposal(ctx context.Context, key, env, reason, requesterID string) (string, string, string, error) {
	if requesterID == "" {
		return "", "", "", fmt.Errorf("requester is required: %w", sentinel.ErrUnauthenticated)
	}
	key = strings.TrimSpace(key)
	env = strings.TrimSpace(env)
	reason = strings.TrimSpace(reason)
	if !keyPattern.MatchString(key) {
		return "", "", "", sentinel.Invalid("invalid secret key %q", key)
	}
	if !envPattern.MatchString(env) {
		return "", "", "", sentinel.Invalid("invalid environment %q", env)
	}
	if reason == "" {
		return "", "", "", sentinel.Invalid("reason is required")
	}
	ok, err := s.roles.HasAnyRoleAt(ctx, requesterID, ProposerRoles, s.now())
	if err != nil {
		return "", "", "", err
	}
	if !ok {
		return "", "", "", fmt.Errorf("proposing secret changes requires security_admin or secrets_manager: %w", sentinel.ErrForbidden)
	}
	return key, env, reason, nil
}

func (s *Service) load(ctx context.Context, id string) (*model.SecretChangeRequest, error) {
	var req model.SecretChangeRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("secret change request %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret change request: %w", err)
	}
	return &req, nil
}

func (s *Service) loadSecret(ctx context.Context, key, env string) (*model.Secret, error) {
	var secret model.Secret
	err := s.db.WithContext(ctx).Where("key = ? AND environment = ?", key, env).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("secret %s: %w", resource(key, env), sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	return &secret, nil
}

func quorumRequest(r *model.SecretChangeRequest) quorum.Request {
	return quorum.Request{ID: r.ID, RequesterID: r.RequesterID, Status: r.Status}
}

func defaultAAD(key, env string) string {
	return env + "/" + key
}

func resource(key, env string) string {
	return env + "/" + key
}
