package idgen

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Unique(t *testing.T) {
	// WHAT: Consecutive IDs are distinct and valid UUIDs.
	// WHY: Run and record IDs must never collide.
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("invalid UUID %q: %v", id, err)
		}
	}
}

func TestUUIDv7_TimeSortable(t *testing.T) {
	// WHAT: IDs generated later sort lexicographically after earlier ones.
	// WHY: The store orders runs by ID; v7 time-ordering makes that cheap.
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id < prev {
			t.Fatalf("ID %q sorts before earlier %q", id, prev)
		}
		prev = id
	}
}
