package ids

import (
	"strconv"
	"testing"
)

func TestGeneratorUniqueAndMonotonic(t *testing.T) {
	g := NewGenerator(7)
	seen := make(map[int64]struct{}, 10000)
	var last int64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
		last = id
		if node := (id >> 12) & 0x3FF; node != 7 {
			t.Fatalf("node bits = %d, want 7", node)
		}
	}
}

func TestNodeIDFromStringInRange(t *testing.T) {
	for _, s := range []string{"", "collab_gw_01", "collab_gw_02", "a-very-long-node-name"} {
		if n := NodeIDFromString(s); n < 0 || n > 1023 {
			t.Fatalf("NodeIDFromString(%q) = %d out of range", s, n)
		}
	}
	if NodeIDFromString("gw") != NodeIDFromString("gw") {
		t.Fatalf("mapping must be stable")
	}
}

func TestSetNodeIDAppliesToDefaultGenerator(t *testing.T) {
	SetNodeID(NodeIDFromString("collab_gw_02"))
	want := NodeIDFromString("collab_gw_02")
	id, err := strconv.ParseInt(GenerateString(), 10, 64)
	if err != nil {
		t.Fatalf("GenerateString not numeric: %v", err)
	}
	if node := (id >> 12) & 0x3FF; node != want {
		t.Fatalf("node bits = %d, want %d", node, want)
	}

	SetNodeID(5000)
	if node := (Generate() >> 12) & 0x3FF; node != 1 {
		t.Fatalf("out-of-range node id should fall back to 1, got %d", node)
	}
}
