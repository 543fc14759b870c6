package types

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		in       interface{}
		expected string
	}{
		{int64(42), "42"},
		{int64(-7), "-7"},
		{"alice@example.com", "alice@example.com"},
		{float64(1.5), "1.5"},
		{float64(100), "100"},
		{true, "true"},
		{false, "false"},
		{[]byte("raw"), "raw"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.expected {
			t.Errorf("Canonical(%v): expected %q, got %q", tt.in, tt.expected, got)
		}
	}
}

func TestCanonicalKeySingleColumn(t *testing.T) {
	key, ok := CanonicalKey([]interface{}{int64(100)})
	if !ok {
		t.Fatal("expected ok")
	}
	if key != "100" {
		t.Errorf("expected 100, got %q", key)
	}
}

func TestCanonicalKeyComposite(t *testing.T) {
	key, ok := CanonicalKey([]interface{}{int64(1), "us-east"})
	if !ok {
		t.Fatal("expected ok")
	}
	if key != `[1,"us-east"]` {
		t.Errorf("unexpected composite key %q", key)
	}
}

func TestCanonicalKeyNullSuppressed(t *testing.T) {
	// Any NULL in the tuple makes the row unindexable.
	if _, ok := CanonicalKey([]interface{}{nil}); ok {
		t.Error("single NULL must not produce a key")
	}
	if _, ok := CanonicalKey([]interface{}{int64(1), nil}); ok {
		t.Error("NULL in composite tuple must not produce a key")
	}
}
