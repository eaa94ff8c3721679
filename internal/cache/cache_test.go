package cache

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestManager_FastOnlyGetSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyFastOnly
	m := NewManager(cfg, slog.Default())
	defer m.Close()

	ctx := context.Background()
	if _, ok := m.Get(ctx, ContentRunbooks, "rb1"); ok {
		t.Fatalf("expected miss before any write")
	}

	if err := m.Set(ctx, ContentRunbooks, "rb1", []byte(`{"id":"rb1"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := m.Get(ctx, ContentRunbooks, "rb1")
	if !ok {
		t.Fatalf("expected hit after write")
	}
	if string(got) != `{"id":"rb1"}` {
		t.Fatalf("got %q", got)
	}

	stats := m.Stats()
	if stats.PerTag[ContentRunbooks].Hits != 1 || stats.PerTag[ContentRunbooks].Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats.PerTag[ContentRunbooks])
	}
}

func TestManager_HybridRepopulatesFastOnSlowHit(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Strategy = StrategyHybrid
	cfg.SlowAddr = srv.Addr()
	m := NewManager(cfg, slog.Default())
	defer m.Close()

	ctx := context.Background()
	if err := m.Set(ctx, ContentKnowledgeBase, "doc1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Evict from the fast tier directly to force a slow-tier hit.
	m.fast.delete(ContentKnowledgeBase, "doc1")
	if _, ok := m.fast.get(ContentKnowledgeBase, "doc1"); ok {
		t.Fatalf("expected fast-tier eviction to take effect")
	}

	got, ok := m.Get(ctx, ContentKnowledgeBase, "doc1")
	if !ok || string(got) != `{"v":1}` {
		t.Fatalf("expected slow-tier hit, got ok=%v val=%q", ok, got)
	}

	if _, ok := m.fast.get(ContentKnowledgeBase, "doc1"); !ok {
		t.Fatalf("expected fast tier to be repopulated after slow-tier hit")
	}
}

func TestManager_DegradesWhenSlowUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyHybrid
	cfg.SlowAddr = "127.0.0.1:1" // nothing listening
	m := NewManager(cfg, slog.Default())
	defer m.Close()

	if m.OverallHealthy() {
		t.Fatalf("expected degraded health when slow tier is unreachable")
	}

	ctx := context.Background()
	if err := m.Set(ctx, ContentWebResponse, "w1", []byte(`{}`)); err != nil {
		t.Fatalf("Set() should still succeed against the fast tier: %v", err)
	}
	if _, ok := m.Get(ctx, ContentWebResponse, "w1"); !ok {
		t.Fatalf("expected fast-tier hit despite degraded slow tier")
	}
}

func TestManager_ConcurrentWritesCoalesceWithoutTornReads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyFastOnly
	m := NewManager(cfg, slog.Default())
	defer m.Close()

	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		i := i
		go func() {
			_ = m.SetJSON(ctx, ContentProcedures, "p1", map[string]int{"n": i})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	var out map[string]int
	if !m.GetJSON(ctx, ContentProcedures, "p1", &out) {
		t.Fatalf("expected a value after concurrent writes")
	}
	if len(out) != 1 {
		t.Fatalf("expected a complete, untorn value, got %+v", out)
	}
}
