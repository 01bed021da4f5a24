package breakglass

import (
	"context"
	"fmt"
	"time"

	"github.com/torvus-labs/torvus-console/pkg/audit"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
)

// View is a request with its recorded approvals
type View struct {
	model.ElevationRequest
	ExpiresAt time.Time     `json:"expires_at"`
	Approvals []quorum.Vote `json:"approvals"`
}

// ListFilter narrows List
type ListFilter struct {
	Status      string
	RequesterID string
	TargetID    string
	Limit       int
}

// Get returns one request with its approvals
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	votes, err := s.engine.Ledger().Votes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{ElevationRequest: *req, ExpiresAt: req.ExpiresAt(), Approvals: votes}, nil
}

// List returns requests newest first
func (s *Service) List(ctx context.Context, f ListFilter) ([]View, error) {
	q := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.TargetID != "" {
		q = q.Where("target_id = ?", f.TargetID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var reqs []model.ElevationRequest
	if err := q.Limit(limit).Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list elevation requests: %w", err)
	}

	views := make([]View, 0, len(reqs))
	for _, r := range reqs {
		votes, err := s.engine.Ledger().Votes(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, View{ElevationRequest: r, ExpiresAt: r.ExpiresAt(), Approvals: votes})
	}
	return views, nil
}

// ExpireStale moves unexecuted requests whose window has elapsed to expired
// and returns how many it moved
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	open := []string{model.StatusPending, model.StatusApproved}

	var candidates []model.ElevationRequest
	err := s.db.WithContext(ctx).
		Where("status IN ? AND executed_at IS NULL", open).
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale elevation requests: %w", err)
	}

	expired := 0
	for _, r := range candidates {
		if now.Before(r.ExpiresAt()) {
			continue
		}
		res := s.db.WithContext(ctx).Model(&model.ElevationRequest{}).
			Where("id = ? AND status IN ? AND executed_at IS NULL", r.ID, open).
			Update("status", model.StatusExpired)
		if res.Error != nil {
			return expired, fmt.Errorf("failed to expire %s: %w", r.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		expired++
		s.audit.Log(ctx, audit.Entry{
			Action:     "elevation.expired",
			TargetType: targetType,
			TargetID:   r.ID,
			Meta:       map[string]any{"previous_status": r.Status, "window": r.WindowMinutes},
		})
	}
	if expired > 0 {
		metrics.AddExpired(workflow, expired)
	}
	return expired, nil
}
