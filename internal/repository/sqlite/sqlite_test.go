package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" creates a fresh database that lives only as long as the
// connection, so every test gets an isolated, already-migrated schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, username, email string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$04$not-a-real-hash",
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// USERS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Username: "ana", Email: "ana@example.com", PasswordHash: "hash"}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if user.ID == "" {
		t.Error("CreateUser() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set user.CreatedAt")
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "first", "same@example.com")

	dup := &model.User{Username: "second", Email: "same@example.com", PasswordHash: "hash"}
	err := db.CreateUser(context.Background(), dup)
	if err == nil {
		t.Fatal("CreateUser() should fail for a duplicate email")
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateUser() error = %v, want ErrConflict", err)
	}
}

func TestGetUserByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "ana", "ana@example.com")

	got, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Username != "ana" || got.Email != "ana@example.com" {
		t.Errorf("GetUserByID() = %+v, want username ana and email ana@example.com", got)
	}
	if got.PasswordHash != created.PasswordHash {
		t.Errorf("PasswordHash = %q, want %q", got.PasswordHash, created.PasswordHash)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "does-not-exist")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "ana", "ana@example.com")

	got, err := db.GetUserByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetUserByEmail() ID = %q, want %q", got.ID, created.ID)
	}

	_, err = db.GetUserByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByEmail() unknown error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// HISTORY
// =========================================================================

func TestAppendHistory(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "ana", "ana@example.com")

	entry := &model.HistoryEntry{
		UserID:         user.ID,
		PlantType:      "Tomato",
		Status:         "Tomato___Early_blight",
		Recommendation: "Remove infected leaves",
	}
	if err := db.AppendHistory(context.Background(), entry); err != nil {
		t.Fatalf("AppendHistory() error = %v", err)
	}
	if entry.ID == 0 {
		t.Error("AppendHistory() did not set entry.ID")
	}
	if entry.AnalyzedAt.IsZero() {
		t.Error("AppendHistory() did not set entry.AnalyzedAt")
	}

	got, total, err := db.ListHistory(context.Background(), user.ID, repository.PageOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if total != 1 || len(got) != 1 {
		t.Fatalf("ListHistory() = %d entries, total %d, want 1 and 1", len(got), total)
	}
	if got[0].Status != "Tomato___Early_blight" || got[0].Recommendation != "Remove infected leaves" {
		t.Errorf("ListHistory()[0] = %+v", got[0])
	}
}

func TestAppendHistory_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.AppendHistory(context.Background(), &model.HistoryEntry{
		UserID:    "ghost",
		PlantType: "Tomato",
		Status:    "Tomato___healthy",
	})
	if err == nil {
		t.Fatal("AppendHistory() should fail when the user does not exist")
	}
}

func TestListHistory_Pagination(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "ana", "ana@example.com")
	other := createTestUser(t, db, "ben", "ben@example.com")

	for i := 1; i <= 15; i++ {
		entry := &model.HistoryEntry{
			UserID:    user.ID,
			PlantType: fmt.Sprintf("plant-%02d", i),
			Status:    "Tomato___healthy",
		}
		if err := db.AppendHistory(context.Background(), entry); err != nil {
			t.Fatalf("AppendHistory(%d) error = %v", i, err)
		}
	}
	// Another user's entries must never leak into the listing.
	if err := db.AppendHistory(context.Background(), &model.HistoryEntry{
		UserID: other.ID, PlantType: "Potato", Status: "Potato___Late_blight",
	}); err != nil {
		t.Fatalf("AppendHistory(other) error = %v", err)
	}

	tests := []struct {
		name      string
		opts      repository.PageOptions
		wantLen   int
		wantFirst string
	}{
		{"first page", repository.PageOptions{Limit: 10, Offset: 0}, 10, "plant-01"},
		{"second page", repository.PageOptions{Limit: 10, Offset: 10}, 5, "plant-11"},
		{"past the end", repository.PageOptions{Limit: 10, Offset: 20}, 0, ""},
		{"saturated offset", repository.PageOptions{Limit: 10, Offset: math.MaxInt}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := db.ListHistory(context.Background(), user.ID, tt.opts)
			if err != nil {
				t.Fatalf("ListHistory() error = %v", err)
			}
			if total != 15 {
				t.Errorf("total = %d, want 15", total)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].PlantType != tt.wantFirst {
				t.Errorf("first entry = %q, want %q", got[0].PlantType, tt.wantFirst)
			}
		})
	}
}

func TestAppendHistory_Concurrent(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "ana", "ana@example.com")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- db.AppendHistory(context.Background(), &model.HistoryEntry{
				UserID:    user.ID,
				PlantType: fmt.Sprintf("plant-%d", i),
				Status:    "Tomato___healthy",
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AppendHistory() error = %v", err)
		}
	}

	_, total, err := db.ListHistory(context.Background(), user.ID, repository.PageOptions{Limit: 100})
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if total != n {
		t.Errorf("total = %d, want %d (no appends lost)", total, n)
	}
}
