package provider

import (
	"testing"
	"time"

	"kanon/internal/globaltime"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	cache := NewCache(time.Minute)
	cache.Put("abc", Candidate{ProviderID: "abc", Title: "Berserk"})

	got, ok := cache.Get("abc")
	if !ok || got.Title != "Berserk" {
		t.Fatalf("expected cached candidate, got %+v ok=%v", got, ok)
	}
	if _, ok := cache.Get("missing"); ok {
		t.Fatalf("did not expect a hit for an unknown key")
	}
	if cache.Len() != 1 {
		t.Fatalf("unexpected cache size: %d", cache.Len())
	}
}

func TestCacheIgnoresEmptyKey(t *testing.T) {
	t.Parallel()

	cache := NewCache(time.Minute)
	cache.Put("", Candidate{Title: "ignored"})
	if cache.Len() != 0 {
		t.Fatalf("expected empty key ignored, got %d entries", cache.Len())
	}
}

func TestCacheEvictsExpiredOnRead(t *testing.T) {
	// Manipulates the process clock; must not run in parallel.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	cache := NewCache(time.Minute)
	cache.Put("abc", Candidate{ProviderID: "abc", Title: "Berserk"})

	globaltime.SetMockTime(base.Add(2 * time.Minute))
	if _, ok := cache.Get("abc"); ok {
		t.Fatalf("expected expired entry evicted")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected eviction to remove the entry, got %d", cache.Len())
	}
}
