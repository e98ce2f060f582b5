package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/perpus/internal/model"
)

func TestPostgresUserRepo_InvalidIDIsNotFound(t *testing.T) {
	repo := NewPostgresUserRepo(nil)

	// 不正な形式のIDはDBに問い合わせずに未検出扱いになる
	user, err := repo.FindByID(context.Background(), "not-a-uuid")
	if err != nil || user != nil {
		t.Errorf("FindByID() = (%v, %v), want (nil, nil)", user, err)
	}

	err = repo.DeleteByID(context.Background(), "not-a-uuid")
	if model.ErrorCode(err) != model.ErrCodeUserNotFound {
		t.Errorf("DeleteByID() error = %v, want USER_NOT_FOUND", err)
	}
}

func TestPostgresUserRepo_Integration(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	repo := NewPostgresUserRepo(db)

	alice := seedUser(t, db, "alice", model.RoleUser)
	seedUser(t, db, "alfred", model.RoleAdmin)
	seedUser(t, db, "budi", model.RoleUser)

	t.Run("FindByUsername", func(t *testing.T) {
		got, err := repo.FindByUsername(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != alice.ID {
			t.Errorf("FindByUsername() = %+v, want id %s", got, alice.ID)
		}
		missing, err := repo.FindByUsername(ctx, "nobody")
		if err != nil || missing != nil {
			t.Errorf("FindByUsername(nobody) = (%v, %v), want (nil, nil)", missing, err)
		}
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		now := time.Now()
		err := repo.Create(ctx, &model.User{
			ID: uuid.New().String(), Username: "alice", PasswordHash: "x",
			Role: model.RoleUser, CreatedAt: now, UpdatedAt: now,
		})
		if model.ErrorCode(err) != model.ErrCodeDuplicateUsername {
			t.Errorf("Create() error = %v, want DUPLICATE_USERNAME", err)
		}
	})

	t.Run("SearchAndList", func(t *testing.T) {
		found, err := repo.Search(ctx, "AL")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(found) != 2 || found[0].Username != "alfred" {
			t.Errorf("Search(AL) = %d users, first %q", len(found), found[0].Username)
		}

		page, err := repo.List(ctx, model.Page{Number: 2, PerPage: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page) != 1 || page[0].Username != "budi" {
			t.Errorf("List(page 2) = %+v", page)
		}
	})

	t.Run("UpdateRole", func(t *testing.T) {
		role := model.RoleAdmin
		got, err := repo.Update(ctx, alice.ID, model.UserPatch{Role: &role})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Role != model.RoleAdmin || got.Username != "alice" {
			t.Errorf("Update() = %+v", got)
		}
	})

	t.Run("DeleteCascadesSessions", func(t *testing.T) {
		sessions := NewPostgresSessionRepo(db)
		s := &model.Session{ID: "sess-delete", UserID: alice.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if err := repo.DeleteByID(ctx, alice.ID); err != nil {
			t.Fatalf("DeleteByID() error = %v", err)
		}
		got, err := sessions.FindByID(ctx, s.ID)
		if err != nil || got != nil {
			t.Errorf("session after user delete = (%v, %v), want (nil, nil)", got, err)
		}
	})
}

func TestPostgresSessionRepo_Integration(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	repo := NewPostgresSessionRepo(db)
	admin := seedUser(t, db, "pustakawan", model.RoleAdmin)

	active := &model.Session{ID: "sess-active", UserID: admin.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	expired := &model.Session{ID: "sess-expired", UserID: admin.ID, ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-time.Hour)}
	for _, s := range []*model.Session{active, expired} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("failed to create session %s: %v", s.ID, err)
		}
	}

	got, err := repo.FindByID(ctx, active.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Role != model.RoleAdmin {
		t.Errorf("FindByID(active) = %+v, want role admin", got)
	}

	if got, _ := repo.FindByID(ctx, expired.ID); got != nil {
		t.Errorf("expired session should not be returned, got %+v", got)
	}

	if err := repo.DeleteByUserID(ctx, admin.ID); err != nil {
		t.Fatalf("DeleteByUserID() error = %v", err)
	}
	if got, _ := repo.FindByID(ctx, active.ID); got != nil {
		t.Errorf("session should be deleted, got %+v", got)
	}
}
