package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/oferrer/wa-gateway/internal/domain"
)

func TestGetOrCreateUser_CreatesOnFirstContact(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	u, err := GetOrCreateUser(ctx, db, "5215550001", "Ana")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u.ID == "" || u.WaID != "5215550001" || u.Name != "Ana" || u.Phone != "5215550001" {
		t.Fatalf("unexpected user: %+v", u)
	}

	var total int64
	db.Model(&domain.User{}).Count(&total)
	if total != 1 {
		t.Fatalf("expected 1 user, got %d", total)
	}
}

func TestGetOrCreateUser_ReturnsExistingAndRefreshesName(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	first, err := GetOrCreateUser(ctx, db, "5215550002", "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	again, err := GetOrCreateUser(ctx, db, "5215550002", "Benito")
	if err != nil {
		t.Fatalf("again: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same user id, got %s vs %s", again.ID, first.ID)
	}
	if again.Name != "Benito" {
		t.Fatalf("name not refreshed: %+v", again)
	}

	stored, err := GetUserByWaID(ctx, db, "5215550002")
	if err != nil {
		t.Fatalf("GetUserByWaID: %v", err)
	}
	if stored.Name != "Benito" {
		t.Fatalf("name not persisted: %+v", stored)
	}
}

func TestGetUserByWaID_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	if _, err := GetUserByWaID(context.Background(), db, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
