package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"wrapped gorm duplicated key", fmt.Errorf("insert approval: %w", gorm.ErrDuplicatedKey), true},
		{"pq unique violation", &pq.Error{Code: "23505"}, true},
		{"pq foreign key violation", &pq.Error{Code: "23503"}, false},
		{"unrelated", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestConnectRequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Connect(Config{})
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestAuditURLFallsBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://main")
	t.Setenv("AUDIT_DATABASE_URL", "")
	assert.Equal(t, "postgres://main", AuditURL())

	t.Setenv("AUDIT_DATABASE_URL", "postgres://audit")
	assert.Equal(t, "postgres://audit", AuditURL())
}
