package session

import (
	"errors"
	"testing"
)

func TestSignature(t *testing.T) {
	tests := []struct {
		query    string
		expected string
	}{
		{"refund policy", "policy refund"},
		{"what's the refund policy", "policy refund"},
		{"policy on refunds", "policy refund"},
		{"Tell me about FAA compliance!", "compliance faa"},
		{"", ""},
		{"the a of", ""},
	}
	for _, tt := range tests {
		if got := Signature(tt.query); got != tt.expected {
			t.Fatalf("Signature(%q) = %q, expected %q", tt.query, got, tt.expected)
		}
	}
}

func TestGetOrFetchCachesOnMiss(t *testing.T) {
	state := newState("s1")
	calls := 0
	fetch := func() (string, error) {
		calls++
		return "policy context", nil
	}

	content, hit := state.GetOrFetch("refund policy", fetch)
	if hit || content != "policy context" {
		t.Fatalf("first call: content=%q hit=%v", content, hit)
	}

	content, hit = state.GetOrFetch("what's the refund policy", fetch)
	if !hit || content != "policy context" {
		t.Fatalf("second call: content=%q hit=%v", content, hit)
	}
	if calls != 1 {
		t.Fatalf("fetch invoked %d times, expected 1", calls)
	}
}

func TestGetOrFetchSubstringHit(t *testing.T) {
	state := newState("s1")
	state.GetOrFetch("aerospace refund policy details", func() (string, error) {
		return "cached", nil
	})

	content, hit := state.GetOrFetch("refund policy", func() (string, error) {
		t.Fatalf("fetch should not run on substring hit")
		return "", nil
	})
	if !hit || content != "cached" {
		t.Fatalf("expected substring hit, got content=%q hit=%v", content, hit)
	}
}

func TestGetOrFetchSingleSlot(t *testing.T) {
	state := newState("s1")
	state.GetOrFetch("refund policy", func() (string, error) { return "refunds", nil })
	state.GetOrFetch("data governance standard", func() (string, error) { return "governance", nil })

	// The refund entry was overwritten by the governance miss.
	calls := 0
	content, hit := state.GetOrFetch("refund policy", func() (string, error) {
		calls++
		return "refunds again", nil
	})
	if hit || content != "refunds again" || calls != 1 {
		t.Fatalf("expected refetch after slot overwrite: content=%q hit=%v calls=%d", content, hit, calls)
	}
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	state := newState("s1")
	content, hit := state.GetOrFetch("refund policy", func() (string, error) {
		return "", errors.New("search backend unreachable")
	})
	if hit {
		t.Fatalf("error result must not be a hit")
	}
	if content != "search backend unreachable" {
		t.Fatalf("expected error text as content, got %q", content)
	}

	// The failed fetch left the slot empty, so the same query fetches again.
	calls := 0
	content, hit = state.GetOrFetch("refund policy", func() (string, error) {
		calls++
		return "recovered", nil
	})
	if hit || content != "recovered" || calls != 1 {
		t.Fatalf("expected retry after error: content=%q hit=%v calls=%d", content, hit, calls)
	}
}

func TestFoldUsageExactlyOnce(t *testing.T) {
	state := newState("s1")
	if !state.FoldUsage("m1", 10, 5) {
		t.Fatalf("first fold should apply")
	}
	if state.FoldUsage("m1", 10, 5) {
		t.Fatalf("second fold of same message should be skipped")
	}
	if !state.FoldUsage("m2", 3, 7) {
		t.Fatalf("new message should fold")
	}
	stats := state.Stats()
	if stats.InputTokens != 13 || stats.OutputTokens != 12 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
}

func TestStoreIsolatesSessions(t *testing.T) {
	store := NewStore()
	a := store.Get("a")
	b := store.Get("b")
	a.FoldUsage("m1", 100, 100)
	if b.Stats().InputTokens != 0 {
		t.Fatalf("sessions must be independent")
	}
	if store.Get("a") != a {
		t.Fatalf("expected same state instance per session id")
	}
	store.Drop("a")
	if store.Get("a") == a {
		t.Fatalf("expected fresh state after drop")
	}
}
