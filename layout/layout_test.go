package layout

import "testing"

func TestNumObjectsZeroSize(t *testing.T) {
	l := New(4<<20, 1, 4<<20, 2, "")
	if n := NumObjects(l, 0); n != 0 {
		t.Fatalf("expected 0 objects for zero size, got %d", n)
	}
}

func TestNumObjectsSingleStripePeriod(t *testing.T) {
	// 16 MiB file, 4 MiB objects, stripe_count=1 -> exactly 4 objects
	l := New(4<<20, 1, 4<<20, 2, "")
	if n := NumObjects(l, 16<<20); n != 4 {
		t.Fatalf("expected 4 objects, got %d", n)
	}
}

func TestNumObjectsPartialTail(t *testing.T) {
	// object_size=1MiB, stripe_count=4 -> period = 4MiB
	// size = 5MiB -> one full period (4 objects) + 1MiB tail (1 object)
	l := New(1<<20, 4, 1<<20, 2, "")
	if n := NumObjects(l, 5<<20); n != 5 {
		t.Fatalf("expected 5 objects, got %d", n)
	}
}

func TestNumObjectsTailCappedAtStripeCount(t *testing.T) {
	l := New(1<<20, 2, 4<<20, 2, "")
	// size slightly over one period plus more than stripe_count worth of tail
	// stripe_unit = 1MiB, period = 2 x 4MiB = 8MiB; size = 8MiB + 3MiB = 11MiB
	// -> tail=3MiB spans 3 stripe units, tailObjects would be 3 but capped to 2
	if n := NumObjects(l, 11<<20); n != 4 {
		t.Fatalf("expected 4 objects (2 full + capped 2 tail), got %d", n)
	}
}

func TestNewPanicsOnZeroGeometry(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero stripe_count")
		}
	}()
	New(4<<20, 0, 4<<20, 1, "")
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("4MiB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4*1024*1024 {
		t.Fatalf("expected 4MiB in bytes, got %d", n)
	}
}

func TestHasNamespace(t *testing.T) {
	l := New(4<<20, 1, 4<<20, 2, "")
	if l.HasNamespace() {
		t.Fatal("expected no namespace by default")
	}
	l.PoolNamespace = "ns"
	if !l.HasNamespace() {
		t.Fatal("expected namespace to be set")
	}
}
