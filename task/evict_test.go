package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed creates n tasks; the ones listed in done are driven to completed.
func seed(t *testing.T, r *Registry, clock *fakeClock, n int, done ...int) []string {
	t.Helper()
	finished := make(map[int]bool, len(done))
	for _, i := range done {
		finished[i] = true
	}

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = r.Create("u").ID
		if finished[i] {
			_, err := r.Mutate(ids[i], func(tk *Task) error {
				if err := tk.start(clock.Now()); err != nil {
					return err
				}
				return tk.complete(clock.Now(), "text")
			})
			require.NoError(t, err)
		}
	}
	return ids
}

func TestEvictor_EnforceRemovesOldestTerminal(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry()
	r.now = clock.Now
	ids := seed(t, r, clock, 5, 0, 1, 2, 3, 4)

	removed := Evictor{Max: 3}.Enforce(r)

	require.Len(t, removed, 2)
	assert.Equal(t, ids[0], removed[0].ID)
	assert.Equal(t, ids[1], removed[1].ID)
	assert.Equal(t, 3, r.Len())
	for _, id := range ids[2:] {
		_, err := r.Get(id)
		assert.NoError(t, err)
	}
}

func TestEvictor_SkipsInFlightByDefault(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry()
	r.now = clock.Now
	// 0 and 1 are still pending and older than the completed ones.
	ids := seed(t, r, clock, 4, 2, 3)

	removed := Evictor{Max: 2}.Enforce(r)

	require.Len(t, removed, 2)
	assert.ElementsMatch(t, []string{ids[2], ids[3]}, []string{removed[0].ID, removed[1].ID})
	_, err := r.Get(ids[0])
	assert.NoError(t, err)
}

func TestEvictor_IncludeInFlightIsLossy(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry()
	r.now = clock.Now
	ids := seed(t, r, clock, 4, 2, 3)

	removed := Evictor{Max: 2, IncludeInFlight: true}.Enforce(r)

	require.Len(t, removed, 2)
	assert.Equal(t, ids[0], removed[0].ID)
	assert.Equal(t, ids[1], removed[1].ID)
}

func TestEvictor_MakeRoom(t *testing.T) {
	t.Run("frees one slot at the high-water mark", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry()
		r.now = clock.Now
		ids := seed(t, r, clock, 3, 0, 1, 2)

		removed, ok := Evictor{Max: 3}.MakeRoom(r)
		assert.True(t, ok)
		require.Len(t, removed, 1)
		assert.Equal(t, ids[0], removed[0].ID)
		assert.Equal(t, 2, r.Len())
	})

	t.Run("reports no room when everything is in flight", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry()
		r.now = clock.Now
		seed(t, r, clock, 3)

		removed, ok := Evictor{Max: 3}.MakeRoom(r)
		assert.False(t, ok)
		assert.Empty(t, removed)
		assert.Equal(t, 3, r.Len())
	})
}

func TestOldestExcess_TiesBrokenByInsertionOrder(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := []Task{
		{ID: "c", CreatedAt: at, Status: StatusCompleted, seq: 3},
		{ID: "a", CreatedAt: at, Status: StatusCompleted, seq: 1},
		{ID: "b", CreatedAt: at, Status: StatusCompleted, seq: 2},
	}

	assert.Equal(t, []string{"a", "b"}, oldestExcess(snapshot, 1, terminal))
	assert.Nil(t, oldestExcess(snapshot, 3, terminal))
}
