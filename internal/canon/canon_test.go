package canon

import "testing"

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	out, err := canonicalizeJSON([]byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"a":2,"b":1}` {
		t.Fatalf("got %s", out)
	}
}

func TestCanonicalizeJSONRejectsTrailingData(t *testing.T) {
	if _, err := canonicalizeJSON([]byte(`{}{}`)); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestTargetKeyStableUnderFieldOrder(t *testing.T) {
	a, err := TargetKey(map[string]any{"workflow": "w1", "agent": "a1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := TargetKey(map[string]any{"agent": "a1", "workflow": "w1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal canonical keys, got %q vs %q", a, b)
	}
}

func TestSHA256HexDeterministic(t *testing.T) {
	h1, err := SHA256Hex([]byte(`{"x":1,"y":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := SHA256Hex([]byte(`{"y":2,"x":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash regardless of key order")
	}
}
