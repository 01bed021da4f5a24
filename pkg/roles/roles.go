// Package roles answers which roles a principal holds at a point in time and
// grants time-boxed break-glass roles.
package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/torvus-labs/torvus-console/pkg/db"
	"github.com/torvus-labs/torvus-console/pkg/model"
	"github.com/torvus-labs/torvus-console/pkg/sentinel"
)

// UnknownRolesError names roles that are not in the catalog
type UnknownRolesError struct {
	Roles []string
}

func (e *UnknownRolesError) Error() string {
	return "unknown role(s): " + strings.Join(e.Roles, ", ")
}

func (e *UnknownRolesError) Unwrap() error {
	return sentinel.ErrInvalidInput
}

// Grant describes a temporary role grant
type Grant struct {
	TargetID      string
	Role          string
	Minutes       int
	Justification string
	TicketRef     *string
}

// Checker is the read side used by workflows for eligibility checks
type Checker interface {
	HasRoleAt(ctx context.Context, principalID, role string, asOf time.Time) (bool, error)
	HasAnyRoleAt(ctx context.Context, principalID string, roles []string, asOf time.Time) (bool, error)
}

// Authority resolves and grants role memberships
type Authority struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Checker = (*Authority)(nil)

func NewAuthority(db *gorm.DB) *Authority {
	return &Authority{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// activeAt restricts a membership query to rows valid at t
func activeAt(q *gorm.DB, t time.Time) *gorm.DB {
	return q.Where("valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)", t, t)
}

// HasRoleAt reports whether principalID holds role at asOf
func (a *Authority) HasRoleAt(ctx context.Context, principalID, role string, asOf time.Time) (bool, error) {
	return a.HasAnyRoleAt(ctx, principalID, []string{role}, asOf)
}

// HasAnyRoleAt reports whether principalID holds at least one of roles at asOf
func (a *Authority) HasAnyRoleAt(ctx context.Context, principalID string, roles []string, asOf time.Time) (bool, error) {
	if principalID == "" || len(roles) == 0 {
		return false, nil
	}
	var count int64
	q := a.db.WithContext(ctx).Model(&model.RoleMembership{}).
		Where("principal_id = ? AND role_name IN ?", principalID, roles)
	if err := activeAt(q, asOf.UTC()).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check roles: %w", err)
	}
	return count > 0, nil
}

// RolesAt returns the sorted role names principalID holds at asOf
func (a *Authority) RolesAt(ctx context.Context, principalID string, asOf time.Time) ([]string, error) {
	var names []string
	q := a.db.WithContext(ctx).Model(&model.RoleMembership{}).
		Where("principal_id = ?", principalID)
	if err := activeAt(q, asOf.UTC()).Pluck("role_name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureRoles fails with *UnknownRolesError if any name is missing from the catalog
func (a *Authority) EnsureRoles(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	var known []string
	if err := a.db.WithContext(ctx).Model(&model.Role{}).Where("name IN ?", names).Pluck("name", &known).Error; err != nil {
		return fmt.Errorf("failed to load role catalog: %w", err)
	}
	found := make(map[string]bool, len(known))
	for _, k := range known {
		found[k] = true
	}
	var unknown []string
	for _, n := range names {
		if !found[n] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &UnknownRolesError{Roles: unknown}
	}
	return nil
}

// GrantTemporaryRole grants g.Role to g.TargetID until now+g.Minutes.
// An existing break-glass grant is extended, never shortened. A permanent
// grant is left untouched.
func (a *Authority) GrantTemporaryRole(ctx context.Context, g Grant) error {
	if g.Minutes <= 0 {
		return sentinel.Invalid("minutes must be positive, got %d", g.Minutes)
	}
	if g.TargetID == "" {
		return sentinel.Invalid("target is required")
	}
	if err := a.EnsureRoles(ctx, []string{g.Role}); err != nil {
		return err
	}

	now := a.now()
	until := now.Add(time.Duration(g.Minutes) * time.Minute)

	var existing model.RoleMembership
	err := a.db.WithContext(ctx).
		Where("principal_id = ? AND role_name = ?", g.TargetID, g.Role).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m := model.RoleMembership{
			ID:            uuid.NewString(),
			PrincipalID:   g.TargetID,
			RoleName:      g.Role,
			ValidFrom:     now,
			ValidTo:       &until,
			Source:        model.SourceBreakGlass,
			Justification: g.Justification,
			TicketRef:     g.TicketRef,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = a.db.WithContext(ctx).Create(&m).Error
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return fmt.Errorf("failed to grant %s: %w", g.Role, err)
		}
		// lost an insert race; the row now exists
		return a.extend(ctx, g, now, until)
	case err != nil:
		return fmt.Errorf("failed to load membership: %w", err)
	case existing.Source != model.SourceBreakGlass:
		return nil
	default:
		return a.extend(ctx, g, now, until)
	}
}

// extend moves a break-glass grant's end to until when that is later
func (a *Authority) extend(ctx context.Context, g Grant, now, until time.Time) error {
	updates := map[string]interface{}{
		"valid_to":      until,
		"justification": g.Justification,
		"updated_at":    now,
	}
	if g.TicketRef != nil {
		updates["ticket_ref"] = *g.TicketRef
	}
	err := a.db.WithContext(ctx).Model(&model.RoleMembership{}).
		Where("principal_id = ? AND role_name = ? AND source = ?", g.TargetID, g.Role, model.SourceBreakGlass).
		Where("valid_to IS NOT NULL AND valid_to < ?", until).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to extend %s: %w", g.Role, err)
	}
	return nil
}

// EndTemporaryRole closes a break-glass grant at the given time. Permanent
// grants and grants already ended earlier are untouched. It reports whether
// a grant was shortened.
func (a *Authority) EndTemporaryRole(ctx context.Context, principalID, role string, at time.Time) (bool, error) {
	at = at.UTC()
	res := a.db.WithContext(ctx).Model(&model.RoleMembership{}).
		Where("principal_id = ? AND role_name = ? AND source = ?", principalID, role, model.SourceBreakGlass).
		Where("valid_to IS NULL OR valid_to > ?", at).
		Updates(map[string]interface{}{"valid_to": at, "updated_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("failed to end %s: %w", role, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GrantPermanentRole gives principalID an open-ended membership. An existing
// break-glass grant for the same role is converted.
func (a *Authority) GrantPermanentRole(ctx context.Context, principalID, role string) error {
	if err := a.EnsureRoles(ctx, []string{role}); err != nil {
		return err
	}
	now := a.now()
	m := model.RoleMembership{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		RoleName:    role,
		ValidFrom:   now,
		Source:      model.SourcePermanent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := a.db.WithContext(ctx).Create(&m).Error
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err) {
		return fmt.Errorf("failed to grant %s: %w", role, err)
	}
	err = a.db.WithContext(ctx).Model(&model.RoleMembership{}).
		Where("principal_id = ? AND role_name = ?", principalID, role).
		Updates(map[string]interface{}{"source": model.SourcePermanent, "valid_to": nil, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", role, err)
	}
	return nil
}
