// ABOUTME: Tests for the bounded FIFO set.
// ABOUTME: Covers eviction order, no-op re-inserts, clearing, index rebuilds and restores.

package dedupe

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	CheckInvariants = true
	os.Exit(m.Run())
}

func TestSet_Contains_Empty(t *testing.T) {
	s := NewSet(4)
	assert.False(t, s.Contains(1))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, s.Cap())
}

func TestSet_Insert_UnderCapacity(t *testing.T) {
	s := NewSet(4)

	_, ok := s.Insert(10)
	assert.False(t, ok, "no eviction under capacity")
	_, ok = s.Insert(20)
	assert.False(t, ok)

	assert.True(t, s.Contains(10))
	assert.True(t, s.Contains(20))
	assert.Equal(t, []uint64{10, 20}, s.Items())
}

func TestSet_Insert_EvictsOldest(t *testing.T) {
	s := NewSet(2)
	s.Insert(1)
	s.Insert(2)

	evicted, ok := s.Insert(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), evicted)

	assert.False(t, s.Contains(1), "oldest id should be evicted")
	assert.True(t, s.Contains(2))
	assert.True(t, s.Contains(3))
}

func TestSet_Insert_ExistingIsNoop(t *testing.T) {
	s := NewSet(3)
	s.Insert(1)
	s.Insert(2)
	s.Insert(3)

	evicted, ok := s.Insert(1)
	assert.False(t, ok)
	assert.Zero(t, evicted)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []uint64{1, 2, 3}, s.Items(), "re-insert must not move the id")

	// 1 is still the oldest, so it goes first.
	evicted, ok = s.Insert(4)
	require.True(t, ok)
	assert.Equal(t, uint64(1), evicted)
}

func TestSet_Insert_LookupDoesNotRefresh(t *testing.T) {
	s := NewSet(2)
	s.Insert(1)
	s.Insert(2)
	assert.True(t, s.Contains(1))

	evicted, ok := s.Insert(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), evicted)
}

func TestSet_SizeIsMinOfCapacityAndDistinct(t *testing.T) {
	const capacity = 5
	s := NewSet(capacity)
	inserted := map[uint64]struct{}{}

	// Repeats every third step to mix no-op inserts into the sequence.
	for i := 0; i < 50; i++ {
		id := uint64(i)
		if i%3 == 2 {
			id = uint64(i - 1)
		}
		s.Insert(id)
		inserted[id] = struct{}{}

		assert.LessOrEqual(t, s.Len(), capacity)
		assert.Equal(t, min(capacity, len(inserted)), s.Len())
	}
}

func TestSet_Wraparound(t *testing.T) {
	s := NewSet(3)
	for id := uint64(1); id <= 10; id++ {
		s.Insert(id)
	}
	assert.Equal(t, []uint64{8, 9, 10}, s.Items())
	for id := uint64(1); id <= 7; id++ {
		assert.False(t, s.Contains(id), "id %d should be evicted", id)
	}
}

func TestSet_Clear(t *testing.T) {
	s := NewSet(3)
	s.Insert(1)
	s.Insert(2)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Contains(1))
	assert.False(t, s.Contains(2))
	assert.Empty(t, s.Items())

	s.Insert(7)
	assert.Equal(t, []uint64{7}, s.Items())
}

func TestSet_RebuildIndex_Idempotent(t *testing.T) {
	s := NewSet(4)
	for id := uint64(1); id <= 6; id++ {
		s.Insert(id)
	}

	s.RebuildIndex()
	once := map[uint64]bool{}
	for id := uint64(0); id <= 7; id++ {
		once[id] = s.Contains(id)
	}

	s.RebuildIndex()
	for id := uint64(0); id <= 7; id++ {
		assert.Equal(t, once[id], s.Contains(id), "id %d", id)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6}, s.Items())
}

func TestSet_RebuildIndex_RecoversDroppedIndex(t *testing.T) {
	s := NewSet(3)
	s.Insert(1)
	s.Insert(2)
	s.index = nil

	s.RebuildIndex()

	assert.True(t, s.Contains(1))
	assert.True(t, s.Contains(2))
}

func TestSetFromItems_KeepsNewestWhenOversized(t *testing.T) {
	s := setFromItems(3, []uint64{1, 2, 3, 4, 5})

	assert.Equal(t, []uint64{3, 4, 5}, s.Items())
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(5))
}

func TestSetFromItems_DropsDuplicates(t *testing.T) {
	s := setFromItems(5, []uint64{1, 2, 1, 3, 2})

	assert.Equal(t, []uint64{1, 2, 3}, s.Items())
	assert.Equal(t, 3, s.Len())
}

func TestSetFromItems_BehavesLikeFreshSet(t *testing.T) {
	s := setFromItems(2, []uint64{10, 20})

	evicted, ok := s.Insert(30)
	require.True(t, ok)
	assert.Equal(t, uint64(10), evicted)
}

func TestNewSet_RejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewSet(0) })
}

func TestSet_InvariantCheckPanics(t *testing.T) {
	s := NewSet(2)
	s.Insert(1)
	s.index[99] = struct{}{}

	assert.PanicsWithError(t, "dedupe: set invariant violated: index has 2 ids, ring has 1", func() {
		s.verify()
	})
}
