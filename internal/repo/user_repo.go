// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions accept a context and a *gorm.DB handle, making them safe for
// use within transactions or connection-scoped operations. They follow the
// "thin repository" approach: no business logic, only CRUD persistence.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound
//     (aliasing gorm.ErrRecordNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oferrer/wa-gateway/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation, most importantly on
// messages.external_id, the pipeline idempotency guard.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation detects unique-constraint failures across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// GetUserByWaID fetches a user by provider wa_id, or ErrNotFound.
func GetUserByWaID(ctx context.Context, db *gorm.DB, waID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("wa_id = ?", waID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser resolves a user by wa_id, inserting a new row on first
// contact. When nameHint is non-empty and differs from the stored display
// name, the name is refreshed in place.
//
// Concurrent first-contact inserts are resolved through the wa_id unique
// index: the losing writer re-reads the winner's row.
func GetOrCreateUser(ctx context.Context, db *gorm.DB, waID, nameHint string) (*domain.User, error) {
	u, err := GetUserByWaID(ctx, db, waID)
	if err == nil {
		if nameHint != "" && nameHint != u.Name {
			if err := db.WithContext(ctx).Model(u).Update("name", nameHint).Error; err != nil {
				return nil, err
			}
			u.Name = nameHint
		}
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	nu := &domain.User{
		ID:        uuid.NewString(),
		WaID:      waID,
		Name:      nameHint,
		Phone:     waID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(nu).Error; err != nil {
		if isUniqueViolation(err) {
			return GetUserByWaID(ctx, db, waID)
		}
		return nil, err
	}
	return nu, nil
}
