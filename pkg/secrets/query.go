package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
)

// View is a change request with its approvals. Payload fields never
// serialize.
type View struct {
	model.SecretChangeRequest
	Approvals []quorum.Vote `json:"approvals"`
}

// ListFilter narrows List
type ListFilter struct {
	Status      string
	Environment string
	Key         string
	RequesterID string
	Limit       int
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	votes, err := s.engine.Ledger().Votes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{SecretChangeRequest: *req, Approvals: votes}, nil
}

// List returns change requests newest first
func (s *Service) List(ctx context.Context, f ListFilter) ([]View, error) {
	q := s.db.WithContext(ctx).Model(&model.SecretChangeRequest{}).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Environment != "" {
		q = q.Where("environment = ?", f.Environment)
	}
	if f.Key != "" {
		q = q.Where("key = ?", f.Key)
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var reqs []model.SecretChangeRequest
	if err := q.Limit(limit).Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list secret change requests: %w", err)
	}
	views := make([]View, 0, len(reqs))
	for _, r := range reqs {
		votes, err := s.engine.Ledger().Votes(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, View{SecretChangeRequest: r, Approvals: votes})
	}
	return views, nil
}

// ExpireStale expires pending requests older than the request TTL and
// approved reveals whose consumption window has closed
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var candidates []model.SecretChangeRequest
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND action = ?)", model.StatusPending, model.StatusApproved, model.ActionReveal).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale secret change requests: %w", err)
	}

	expired := 0
	for _, r := range candidates {
		switch r.Status {
		case model.StatusPending:
			if now.Before(r.CreatedAt.Add(s.cfg.RequestTTL)) {
				continue
			}
		case model.StatusApproved:
			if r.AppliedAt == nil || !now.After(r.AppliedAt.Add(s.cfg.RevealWindow)) {
				continue
			}
		}
		res := s.db.WithContext(ctx).Model(&model.SecretChangeRequest{}).
			Where("id = ? AND status = ?", r.ID, r.Status).
			Update("status", model.StatusExpired)
		if res.Error != nil {
			return expired, fmt.Errorf("failed to expire %s: %w", r.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		expired++
		s.audit.Log(ctx, audit.Entry{
			Action:     "secret.expired",
			TargetType: targetType,
			TargetID:   r.ID,
			Resource:   resource(r.Key, r.Environment),
			Meta:       map[string]any{"previous_status": r.Status, "action": r.Action},
		})
	}
	if expired > 0 {
		metrics.AddExpired(workflow, expired)
	}
	return expired, nil
}
