package identity

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

// Directory maps edge-asserted emails to staff principals and back.
type Directory interface {
	// ResolveEmail returns the active staff member for email.
	// Unknown or inactive staff yield sentinel.ErrUnauthenticated.
	ResolveEmail(ctx context.Context, email string) (*model.Staff, error)
	// EmailsFor returns principal id to email for every known id.
	EmailsFor(ctx context.Context, principalIDs []string) (map[string]string, error)
}

// GormDirectory reads the staff table.
type GormDirectory struct {
	db *gorm.DB
}

var _ Directory = (*GormDirectory)(nil)

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ResolveEmail(ctx context.Context, email string) (*model.Staff, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("no identity asserted: %w", sentinel.ErrUnauthenticated)
	}

	var staff model.Staff
	err := d.db.WithContext(ctx).Where("email = ?", email).First(&staff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s is not a staff member: %w", email, sentinel.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staff: %w", err)
	}
	if !staff.Active {
		return nil, fmt.Errorf("%s is inactive: %w", email, sentinel.ErrUnauthenticated)
	}
	return &staff, nil
}

func (d *GormDirectory) EmailsFor(ctx context.Context, principalIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(principalIDs))
	if len(principalIDs) == 0 {
		return out, nil
	}

	var staff []model.Staff
	if err := d.db.WithContext(ctx).Where("id IN ?", principalIDs).Find(&staff).Error; err != nil {
		return nil, fmt.Errorf("failed to load staff emails: %w", err)
	}
	for _, s := range staff {
		out[s.ID] = s.Email
	}
	return out, nil
}
