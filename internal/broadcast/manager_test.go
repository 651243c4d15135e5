package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/models"
	"github.com/matchcast/backend/internal/repository"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *repository.MemoryBroadcastStore, *cache.CredentialRegistry, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rc := cache.WrapClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))
	t.Cleanup(func() { rc.Close() })

	store := repository.NewMemoryBroadcastStore()
	reg := cache.NewCredentialRegistry(rc, cache.RegistryOptions{})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mgr := NewManager(store, reg, Options{
		CredentialTTL: 2 * time.Hour,
		Now:           func() time.Time { return now },
	})
	return mgr, store, reg, m
}

func TestManager_Create(t *testing.T) {
	mgr, _, reg, m := newTestManager(t)
	ctx := context.Background()

	b, err := mgr.Create(ctx, CreateInput{ExternalMatchID: "match-42", OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b.Status != models.StatusScheduled {
		t.Errorf("Expected scheduled, got %s", b.Status)
	}
	if len(b.StreamKey) != 64 {
		t.Errorf("Expected 64-char stream key, got %d", len(b.StreamKey))
	}

	id, ok, err := reg.Resolve(ctx, b.StreamKey)
	if err != nil || !ok || id != b.ID {
		t.Fatalf("Expected key to resolve to %s, got %s ok=%v err=%v", b.ID, id, ok, err)
	}
	if ttl := m.TTL("stream:key:" + b.StreamKey); ttl != 2*time.Hour {
		t.Errorf("Expected credential ttl 2h, got %s", ttl)
	}
}

func TestManager_CreateValidation(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	if _, err := mgr.Create(context.Background(), CreateInput{OrganizationID: "org"}); err == nil {
		t.Error("Expected error without external match id")
	}
	if _, err := mgr.Create(context.Background(), CreateInput{ExternalMatchID: "m"}); err == nil {
		t.Error("Expected error without organization id")
	}
}

func TestManager_CreateRegistryDown(t *testing.T) {
	mgr, store, _, m := newTestManager(t)
	m.Close()

	b, err := mgr.Create(context.Background(), CreateInput{ExternalMatchID: "m", OrganizationID: "o"})
	if !errors.Is(err, ErrCredentialNotRegistered) {
		t.Fatalf("Expected ErrCredentialNotRegistered, got %v", err)
	}
	if b == nil {
		t.Fatal("Expected the stored broadcast to be returned")
	}
	if _, err := store.FindByID(context.Background(), b.ID); err != nil {
		t.Errorf("Expected the row to be kept, got %v", err)
	}
}

func TestManager_Cancel(t *testing.T) {
	mgr, _, reg, _ := newTestManager(t)
	ctx := context.Background()
	b, _ := mgr.Create(ctx, CreateInput{ExternalMatchID: "m", OrganizationID: "o"})

	cancelled, err := mgr.Cancel(ctx, b.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.EndedAt == nil {
		t.Errorf("unexpected cancelled broadcast %+v", cancelled)
	}
	if _, ok, _ := reg.Resolve(ctx, b.StreamKey); ok {
		t.Error("Expected credential revoked on cancel")
	}

	if _, err := mgr.Cancel(ctx, b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on second cancel, got %v", err)
	}
}

func TestManager_End(t *testing.T) {
	mgr, store, reg, _ := newTestManager(t)
	ctx := context.Background()
	b, _ := mgr.Create(ctx, CreateInput{ExternalMatchID: "m", OrganizationID: "o"})

	if _, err := mgr.End(ctx, b.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition ending a scheduled broadcast, got %v", err)
	}

	live, _ := b.Start(time.Now())
	_ = store.Save(ctx, &live)
	_ = reg.MarkActive(ctx, b.StreamKey)

	finished, err := mgr.End(ctx, b.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if finished.Status != models.StatusFinished {
		t.Errorf("Expected finished, got %s", finished.Status)
	}
	if active, _ := reg.IsActive(ctx, b.StreamKey); active {
		t.Error("Expected activity cleared on end")
	}
}

func TestManager_EnsureCredential(t *testing.T) {
	mgr, _, reg, m := newTestManager(t)
	ctx := context.Background()
	b, _ := mgr.Create(ctx, CreateInput{ExternalMatchID: "m", OrganizationID: "o"})

	m.FastForward(3 * time.Hour)
	if _, ok, _ := reg.Resolve(ctx, b.StreamKey); ok {
		t.Fatal("precondition: credential should have expired")
	}

	got, err := mgr.EnsureCredential(ctx, b.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.StreamKey != b.StreamKey {
		t.Error("EnsureCredential must not rotate the key")
	}
	if _, ok, _ := reg.Resolve(ctx, b.StreamKey); !ok {
		t.Error("Expected credential registered again")
	}

	_, _ = mgr.Cancel(ctx, b.ID)
	if _, err := mgr.EnsureCredential(ctx, b.ID); !errors.Is(err, models.ErrAlreadyEnded) {
		t.Errorf("Expected ErrAlreadyEnded for cancelled broadcast, got %v", err)
	}
}

func TestManager_ActivityAndList(t *testing.T) {
	mgr, _, reg, _ := newTestManager(t)
	ctx := context.Background()
	a, _ := mgr.Create(ctx, CreateInput{ExternalMatchID: "m1", OrganizationID: "org-a"})
	_, _ = mgr.Create(ctx, CreateInput{ExternalMatchID: "m2", OrganizationID: "org-b"})
	_ = reg.MarkActive(ctx, a.StreamKey)

	act, err := mgr.Activity(ctx, a.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if !act.Registered || !act.Active {
		t.Errorf("unexpected activity %+v", act)
	}

	list, err := mgr.List(ctx, models.BroadcastFilter{OrganizationID: "org-a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("Expected only org-a broadcast, got %v", list)
	}
}
