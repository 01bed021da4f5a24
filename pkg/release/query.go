package release

import (
	"context"
	"fmt"

	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/quorum"
)

// View is a release with its decisions and derived counts
type View struct {
	model.ReleaseRequest
	Approvals  int           `json:"approvals"`
	Rejections int           `json:"rejections"`
	Votes      []quorum.Vote `json:"votes"`
}

type ListFilter struct {
	Status      string
	RequesterID string
	Limit       int
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, *req)
}

// List returns releases newest first
func (s *Service) List(ctx context.Context, f ListFilter) ([]View, error) {
	q := s.db.WithContext(ctx).Model(&model.ReleaseRequest{}).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var reqs []model.ReleaseRequest
	if err := q.Limit(limit).Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	views := make([]View, 0, len(reqs))
	for _, r := range reqs {
		v, err := s.view(ctx, r)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, r model.ReleaseRequest) (*View, error) {
	votes, err := s.engine.Ledger().Votes(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	v := &View{ReleaseRequest: r, Votes: votes}
	for _, vote := range votes {
		if vote.ApproverID == r.RequesterID {
			continue
		}
		if vote.Decision == quorum.Reject {
			v.Rejections++
		} else {
			v.Approvals++
		}
	}
	return v, nil
}
