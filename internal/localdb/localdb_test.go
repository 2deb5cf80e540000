package localdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/types"
)

func setupTestDB(t *testing.T) *WheelStore {
	t.Helper()
	if DBClient != nil {
		_ = DBClient.Close()
		DBClient = nil
	}

	dbPath := filepath.Join(t.TempDir(), "wheel.db")
	db, err := SetupDB(dbPath)
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		DBClient = nil
	})
	return NewWheelStore(db)
}

func createTestWheel(t *testing.T, s *WheelStore) types.Wheel {
	t.Helper()
	w, err := s.Create(context.Background(), types.Wheel{
		Title:  "Lunch",
		Owner:  "u-owner",
		Slices: []string{"A", "B", "C", "D"},
		Participants: []types.Participant{
			{Email: "Ed@Example.com", Role: types.RoleEditor},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return w
}

func TestWheelStore_CreateAndGet(t *testing.T) {
	s := setupTestDB(t)
	created := createTestWheel(t, s)

	if created.ID == "" {
		t.Fatalf("wheel id should be generated")
	}
	got, err := s.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Lunch" || got.Version != 1 {
		t.Fatalf("unexpected wheel: title=%q version=%d", got.Title, got.Version)
	}
	if got.Visibility != types.VisibilityPrivate {
		t.Fatalf("unexpected visibility: got=%q want=%q", got.Visibility, types.VisibilityPrivate)
	}
	if len(got.Slices) != 4 || got.Slices[2] != "C" {
		t.Fatalf("unexpected slices: %v", got.Slices)
	}
	if len(got.Participants) != 1 || got.Participants[0].Email != "ed@example.com" {
		t.Fatalf("unexpected participants: %+v", got.Participants)
	}
	if _, ok := got.Spin.Phase().(types.Idle); !ok {
		t.Fatalf("new wheel should be idle: %#v", got.Spin.Phase())
	}

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWheelStore_CompareAndSwapVersioning(t *testing.T) {
	s := setupTestDB(t)
	w := createTestWheel(t, s)
	ctx := context.Background()

	next := w
	next.Spin = types.SpinDocFrom(types.Spinning{Initiator: "u-owner", Timestamp: 100}, 0)
	stored, err := s.CompareAndSwap(ctx, w.ID, 1, next)
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if stored.Version != 2 {
		t.Fatalf("unexpected version: got=%d want=2", stored.Version)
	}
	if p, ok := stored.Spin.Phase().(types.Spinning); !ok || p.Initiator != "u-owner" {
		t.Fatalf("unexpected phase: %#v", stored.Spin.Phase())
	}

	if _, err := s.CompareAndSwap(ctx, w.ID, 1, next); !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("stale version should conflict: %v", err)
	}
	if _, err := s.CompareAndSwap(ctx, "missing", 1, next); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWheelStore_ResolveRecordsHistoryAndStats(t *testing.T) {
	s := setupTestDB(t)
	w := createTestWheel(t, s)
	ctx := context.Background()

	var hooked []ResolvedSpin
	s.OnResolved(func(r ResolvedSpin) { hooked = append(hooked, r) })

	for i := 0; i < 2; i++ {
		cur, _ := s.Get(ctx, w.ID)
		start := cur
		start.Spin = types.SpinDocFrom(types.Spinning{Initiator: "u-owner", Timestamp: cur.Spin.Timestamp() + 1}, 0)
		cur, err := s.CompareAndSwap(ctx, w.ID, cur.Version, start)
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}

		done := cur
		done.Spin = types.SpinDocFrom(types.Resolved{Winner: "B", Timestamp: cur.Spin.Timestamp() + 1}, 0)
		if _, err := s.CompareAndSwap(ctx, w.ID, cur.Version, done); err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
	}

	total, err := GetTotalSpins()
	if err != nil {
		t.Fatalf("GetTotalSpins failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("unexpected total spins: got=%d want=2", total)
	}

	history, err := GetSpinHistory(w.ID, 10)
	if err != nil {
		t.Fatalf("GetSpinHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("unexpected history count: got=%d want=2", len(history))
	}
	if history[0].Winner != "B" || history[0].InitiatedBy != "u-owner" || history[0].SliceCount != 4 {
		t.Fatalf("unexpected history row: %+v", history[0])
	}
	if history[0].SpinTS <= history[1].SpinTS {
		t.Fatalf("history should be newest first: %d <= %d", history[0].SpinTS, history[1].SpinTS)
	}

	if len(hooked) != 2 || hooked[1].TotalSpins != 2 {
		t.Fatalf("unexpected resolved hooks: %+v", hooked)
	}

	if err := DeleteSpinHistory(w.ID); err != nil {
		t.Fatalf("DeleteSpinHistory failed: %v", err)
	}
	history, _ = GetSpinHistory(w.ID, 0)
	if len(history) != 0 {
		t.Fatalf("history should be empty after delete: got=%d", len(history))
	}
}

func TestWheelStore_UpdateAndList(t *testing.T) {
	s := setupTestDB(t)
	w := createTestWheel(t, s)
	ctx := context.Background()

	vis := types.VisibilityPublic
	updated, err := s.Update(ctx, w.ID, docstore.Fields{
		Slices:       []string{"X", "Y"},
		Visibility:   &vis,
		Participants: []types.Participant{{Email: "view@example.com", Role: types.RoleViewer}},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 || len(updated.Slices) != 2 || updated.Visibility != types.VisibilityPublic {
		t.Fatalf("unexpected updated wheel: %+v", updated)
	}

	shared, err := s.ListForUser(ctx, types.User{ID: "u-view", Email: "VIEW@example.com"})
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(shared) != 1 || shared[0].ID != w.ID {
		t.Fatalf("unexpected shared wheels: %+v", shared)
	}

	owned, err := s.ListForUser(ctx, types.User{ID: "u-owner", Email: "owner@example.com"})
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("unexpected owned wheels: got=%d want=1", len(owned))
	}

	if err := s.Delete(ctx, w.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, w.ID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("wheel should be gone: %v", err)
	}
}

func TestWheelStore_SubscribeSeesWrites(t *testing.T) {
	s := setupTestDB(t)
	w := createTestWheel(t, s)
	ctx := context.Background()

	got := make(chan types.Wheel, 8)
	stop, err := s.Subscribe(ctx, w.ID, func(w types.Wheel) { got <- w }, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stop()

	select {
	case first := <-got:
		if first.Version != 1 {
			t.Fatalf("unexpected initial version: got=%d", first.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial snapshot")
	}

	title := "Dinner"
	if _, err := s.Update(ctx, w.ID, docstore.Fields{Title: &title}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	select {
	case next := <-got:
		if next.Title != "Dinner" {
			t.Fatalf("unexpected title: got=%q want=%q", next.Title, "Dinner")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change snapshot")
	}
}

func TestUsersAndTokens(t *testing.T) {
	setupTestDB(t)

	user, err := EnsureUser(" Alice@Example.com ", "Alice")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	again, err := EnsureUser("alice@example.com", "")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("EnsureUser should return the same user: got=%q want=%q", again.ID, user.ID)
	}

	token, err := IssueToken(user.ID)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	byToken, err := GetUserByToken(token)
	if err != nil {
		t.Fatalf("GetUserByToken failed: %v", err)
	}
	if byToken.Email != "alice@example.com" {
		t.Fatalf("unexpected email: got=%q", byToken.Email)
	}

	if err := RevokeToken(token); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if _, err := GetUserByToken(token); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("revoked token should not resolve: %v", err)
	}

	if _, err := EnsureUser("not-an-email", ""); err == nil {
		t.Fatalf("expected error for invalid email")
	}
}
