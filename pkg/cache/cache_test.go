package cache

import (
	"context"
	"testing"
	"time"
)

// TestGetOrFetchSingleCall verifies the cache-hit short-circuit: repeated
// reads with the same key inside the TTL window invoke the producer once.
func TestGetOrFetchSingleCall(t *testing.T) {
	store := NewMemory()
	calls := 0
	producer := func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFetch(context.Background(), store, Key("tracks", "1"), time.Minute, producer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0] != "a" {
			t.Fatalf("unexpected value %v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected one producer call, got %d", calls)
	}
}

func TestGetOrFetchSkipsEmptyResults(t *testing.T) {
	store := NewMemory()
	calls := 0
	producer := func(context.Context) (string, error) {
		calls++
		return "", nil
	}

	for i := 0; i < 2; i++ {
		if _, err := GetOrFetch(context.Background(), store, Key("preview", "x"), time.Minute, producer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("empty result should not be cached, producer called %d times", calls)
	}
}

func TestMemoryPassiveExpiry(t *testing.T) {
	store := NewMemory()
	store.Set("k", []byte(`1`), 10*time.Millisecond)
	if _, ok := store.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get("k"); ok {
		t.Fatal("expected miss after expiry")
	}
	if store.Len() != 0 {
		t.Errorf("expired entry not dropped on read")
	}
}

func TestSetZeroTTLStoresNothing(t *testing.T) {
	store := NewMemory()
	store.Set("k", []byte(`1`), 0)
	if _, ok := store.Get("k"); ok {
		t.Fatal("zero ttl should not cache")
	}
}

// TestKeyDelimiterSafety ensures differently split parts never produce the
// same key, even when the parts themselves contain the join delimiter.
func TestKeyDelimiterSafety(t *testing.T) {
	a := Key("ns", "a:b", "c")
	b := Key("ns", "a", "b:c")
	if a == b {
		t.Fatalf("delimiter collision: %q", a)
	}
	if Key("ns", "x") != Key("ns", "x") {
		t.Fatal("key encoding is not deterministic")
	}
}
