package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, ok, err := m.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get on missing key = (%v, %v), want (_, false)", ok, err)
	}

	if err := m.Set(ctx, "k", "v1", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || val != "v1" {
		t.Fatalf("Get after Set = (%q, %v, %v), want (v1, true, nil)", val, ok, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, err := m.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get after expiry = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	ok, err := m.SetNX(ctx, "lock", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = m.SetNX(ctx, "lock", "2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX on held lock = (%v, %v), want (false, nil)", ok, err)
	}

	if err := m.Delete(ctx, "lock"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = m.SetNX(ctx, "lock", "3", time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after Delete = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMemoryStoreSetNXReacquiresAfterExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if ok, _ := m.SetNX(ctx, "lock", "1", time.Millisecond); !ok {
		t.Fatal("expected first SetNX to succeed")
	}
	time.Sleep(5 * time.Millisecond)
	ok, err := m.SetNX(ctx, "lock", "2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	m.Set(ctx, "avail:shop1:2026-08-01", "x", time.Minute)
	m.Set(ctx, "avail:shop1:2026-08-02", "x", time.Minute)
	m.Set(ctx, "avail:shop2:2026-08-01", "x", time.Minute)

	if err := m.DeletePrefix(ctx, "avail:shop1:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "avail:shop1:2026-08-01"); ok {
		t.Fatal("expected shop1 key to be purged")
	}
	if _, ok, _ := m.Get(ctx, "avail:shop2:2026-08-01"); !ok {
		t.Fatal("expected shop2 key to survive the shop1 prefix purge")
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for i, want := range []int64{1, 2, 3} {
		got, err := m.Incr(ctx, "counter", time.Minute)
		if err != nil || got != want {
			t.Fatalf("Incr call %d = (%d, %v), want (%d, nil)", i, got, err, want)
		}
	}
}

func TestMemoryStoreSlidingWindowAllow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for i := 0; i < 3; i++ {
		allowed, err := m.SlidingWindowAllow(ctx, "rl", 3, time.Minute)
		if err != nil || !allowed {
			t.Fatalf("SlidingWindowAllow call %d = (%v, %v), want (true, nil)", i, allowed, err)
		}
	}
	allowed, err := m.SlidingWindowAllow(ctx, "rl", 3, time.Minute)
	if err != nil || allowed {
		t.Fatalf("SlidingWindowAllow over limit = (%v, %v), want (false, nil)", allowed, err)
	}
}

func TestMemoryStoreLen(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Set(ctx, "a", "1", time.Minute)
	m.Set(ctx, "b", "2", time.Minute)
	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}
