package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
)

// Revealed is a decrypted secret value
type Revealed struct {
	Key         string `json:"key"`
	Environment string `json:"environment"`
	Version     int    `json:"version"`
	Value       string `json:"value"`

	LastRotatedAt *time.Time `json:"-"`
}

// ReadOptions suppress the side effects of GetDecrypted
type ReadOptions struct {
	// SkipAudit omits the secret.retrieved audit event
	SkipAudit bool
	// SkipTouch leaves last_accessed_at alone
	SkipTouch bool
}

// Preview is a masked view of a secret
type Preview struct {
	Key           string     `json:"key"`
	Environment   string     `json:"environment"`
	Version       int        `json:"version"`
	Masked        string     `json:"masked"`
	LastRotatedAt *time.Time `json:"last_rotated_at,omitempty"`
}

// ConsumeReveal returns the live secret for an approved reveal request,
// exactly once. It returns nil without error when the reveal is not
// available: wrong action or status, a caller other than the requester, or
// a consumption window that has closed.
func (s *Service) ConsumeReveal(ctx context.Context, requestID, requesterID string) (*Revealed, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if req.Action != model.ActionReveal || req.Status != model.StatusApproved {
		return nil, nil
	}
	if requesterID == "" || requesterID != req.RequesterID {
		return nil, nil
	}
	if req.AppliedAt == nil || now.Sub(*req.AppliedAt) > s.cfg.RevealWindow {
		return nil, nil
	}

	secret, err := s.loadSecret(ctx, req.Key, req.Environment)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.decrypt(secret)
	if err != nil {
		return nil, err
	}

	claim := s.db.WithContext(ctx).Model(&model.SecretChangeRequest{}).
		Where("id = ? AND status = ?", req.ID, model.StatusApproved).
		Update("status", model.StatusApplied)
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to consume reveal: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		return nil, nil
	}
	metrics.IncTransition(workflow, model.StatusApplied)
	s.touch(ctx, secret.ID, now)

	s.audit.Log(ctx, audit.Entry{
		Action:     "secret.revealed",
		TargetType: targetType,
		TargetID:   req.ID,
		Resource:   resource(req.Key, req.Environment),
		Meta:       map[string]any{"version": secret.Version},
	})
	return &Revealed{Key: secret.Key, Environment: secret.Environment, Version: secret.Version, Value: string(plaintext)}, nil
}

// GetDecrypted reads and decrypts a secret directly. Internal callers that
// mask or only verify against the value suppress the audit and touch.
func (s *Service) GetDecrypted(ctx context.Context, key, env string, opts ReadOptions) (*Revealed, error) {
	secret, err := s.loadSecret(ctx, key, env)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.decrypt(secret)
	if err != nil {
		return nil, err
	}
	if !opts.SkipTouch {
		s.touch(ctx, secret.ID, s.now())
	}
	if !opts.SkipAudit {
		s.audit.Log(ctx, audit.Entry{
			Action:     "secret.retrieved",
			TargetType: "secret",
			TargetID:   secret.ID,
			Resource:   resource(key, env),
			Meta:       map[string]any{"version": secret.Version},
		})
	}
	return &Revealed{
		Key:           secret.Key,
		Environment:   secret.Environment,
		Version:       secret.Version,
		Value:         string(plaintext),
		LastRotatedAt: secret.LastRotatedAt,
	}, nil
}

// Preview returns the secret with most of its value masked. It reads
// without auditing or touching the secret.
func (s *Service) Preview(ctx context.Context, key, env string) (*Preview, error) {
	r, err := s.GetDecrypted(ctx, key, env, ReadOptions{SkipAudit: true, SkipTouch: true})
	if err != nil {
		return nil, err
	}
	return &Preview{
		Key:           r.Key,
		Environment:   r.Environment,
		Version:       r.Version,
		Masked:        Mask(r.Value),
		LastRotatedAt: r.LastRotatedAt,
	}, nil
}

// Mask hides all but the last four characters of v. Values of eight
// characters or fewer are hidden entirely.
func Mask(v string) string {
	runes := []rune(v)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}

func (s *Service) decrypt(secret *model.Secret) ([]byte, error) {
	aad := defaultAAD(secret.Key, secret.Environment)
	if secret.AAD != nil {
		aad = *secret.AAD
	}
	plaintext, err := s.sealer.Decrypt(secret.Ciphertext, secret.Nonce, []byte(aad))
	if err != nil {
		return nil, fmt.Errorf("failed to open secret %s: %w", resource(secret.Key, secret.Environment), err)
	}
	return plaintext, nil
}

func (s *Service) touch(ctx context.Context, secretID string, at time.Time) {
	err := s.db.WithContext(ctx).Model(&model.Secret{}).Where("id = ?", secretID).
		Update("last_accessed_at", at).Error
	if err != nil {
		logging.WithFields(logrus.Fields{"secret_id": secretID}).
			WithError(err).Warn("secrets: failed to touch last_accessed_at")
	}
}
