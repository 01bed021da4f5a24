// Package dbtest opens throwaway SQLite databases with the Torvus schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/torvus-labs/torvus-console/pkg/model"
)

// OpenTestDB creates a SQLite in-memory DB unique per test, migrated with every
// model. The pool is pinned to one connection so concurrent callers serialize
// on the database the way row locks would serialize them in postgres.
func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsnName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// SeedRoles inserts the standard role catalog
func SeedRoles(t testing.TB, db *gorm.DB, extra ...string) {
	t.Helper()
	names := append([]string{
		model.RoleInvestigator,
		model.RoleSecurityAdmin,
		model.RoleSecretsManager,
		model.RoleAdmin,
	}, extra...)
	for _, name := range names {
		if err := db.Create(&model.Role{Name: name, CreatedAt: time.Now().UTC()}).Error; err != nil {
			t.Fatalf("failed to seed role %s: %v", name, err)
		}
	}
}

// GrantPermanent gives principalID a permanent role membership valid since 2000
func GrantPermanent(t testing.TB, db *gorm.DB, principalID string, roles ...string) {
	t.Helper()
	now := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, role := range roles {
		m := model.RoleMembership{
			ID:          fmt.Sprintf("%s:%s", principalID, role),
			PrincipalID: principalID,
			RoleName:    role,
			ValidFrom:   now,
			Source:      model.SourcePermanent,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("failed to grant %s to %s: %v", role, principalID, err)
		}
	}
}

// AddStaff registers a staff member and returns its id
func AddStaff(t testing.TB, db *gorm.DB, id, email string) string {
	t.Helper()
	s := model.Staff{ID: id, Email: email, DisplayName: id, Active: true, CreatedAt: time.Now().UTC()}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to add staff %s: %v", email, err)
	}
	return id
}
