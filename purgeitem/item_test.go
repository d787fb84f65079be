package purgeitem

import (
	"testing"

	"github.com/launix-de/purgequeue/layout"
)

func TestNewRejectsInvalidPrimaryPool(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on invalid primary pool")
		}
	}()
	l := layout.New(4<<20, 1, 4<<20, 2, "")
	l.PrimaryPool = 0
	New(1, 0, l, nil, SnapContext{})
}

func TestNewRejectsMalformedSnapContext(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when a snap id exceeds seq")
		}
	}()
	l := layout.New(4<<20, 1, 4<<20, 2, "")
	New(1, 0, l, nil, SnapContext{Seq: 1, Snaps: []uint64{5}})
}

func TestNewCopiesOldPools(t *testing.T) {
	l := layout.New(4<<20, 1, 4<<20, 2, "")
	pools := []uint64{1, 2}
	item := New(1, 0, l, pools, SnapContext{})
	pools[0] = 99
	if item.OldPools[0] == 99 {
		t.Fatal("Item.OldPools must not alias the caller's slice")
	}
}
