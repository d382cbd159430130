package groups

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type outcome struct {
	txID      string
	amount    int64
	completed bool
}

func newGroup(t *testing.T, c *Coordinator, id string, amounts ...int64) []string {
	t.Helper()
	ids := make([]string, len(amounts))
	var total int64
	for i, a := range amounts {
		ids[i] = fmt.Sprintf("%s_%d", id, i)
		total += a
	}
	_, created, err := c.Create(id, "5511", total, len(amounts), domain.GroupMeta{DestinationKey: "k", ChunkIDs: ids})
	require.NoError(t, err)
	require.True(t, created)
	return ids
}

func apply(c *Coordinator, groupID string, o outcome) (Report, error) {
	if o.completed {
		return c.ReportComplete(groupID, o.amount, o.txID)
	}
	return c.ReportFailed(groupID, o.amount, o.txID)
}

func TestCoordinatorCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, fixedClock{epoch}, nil)
	first, created, err := c.Create("g", "5511", 30_000, 3, domain.GroupMeta{})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := c.Create("g", "other", 1, 9, domain.GroupMeta{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
	assert.Equal(t, domain.GroupPending, second.Status)
}

func TestCoordinatorCreateRejectsBadInput(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	_, _, err := c.Create("g", "u", 100, 0, domain.GroupMeta{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = c.Create("g", "u", 100, 2, domain.GroupMeta{ChunkIDs: []string{"only-one"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCoordinatorPartialInEveryOrder(t *testing.T) {
	t.Parallel()

	orders := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			c := NewCoordinator(time.Hour, fixedClock{epoch}, nil)
			ids := newGroup(t, c, "g", 10_000, 10_000, 5_000)
			outcomes := []outcome{
				{ids[0], 10_000, true},
				{ids[1], 10_000, true},
				{ids[2], 5_000, false},
			}

			var terminal []Report
			for _, i := range order {
				r, err := apply(c, "g", outcomes[i])
				require.NoError(t, err)
				if r.Terminal {
					terminal = append(terminal, r)
				}
			}

			require.Len(t, terminal, 1)
			snap := terminal[0].Snapshot
			assert.Equal(t, domain.GroupPartial, snap.Status)
			assert.Equal(t, 2, snap.CompletedCount)
			assert.Equal(t, 1, snap.FailedCount)
			assert.Equal(t, int64(20_000), snap.CompletedAmount)
			assert.Equal(t, int64(5_000), snap.FailedAmount)
			assert.Equal(t, []string{ids[2]}, snap.FailedIDs)
			assert.Equal(t, epoch, snap.ResolvedAt)
		})
	}
}

func TestCoordinatorAllFailed(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	ids := newGroup(t, c, "g", 10_000, 10_000)

	r, err := c.ReportFailed("g", 10_000, ids[0])
	require.NoError(t, err)
	assert.False(t, r.Terminal)

	r, err = c.ReportFailed("g", 10_000, ids[1])
	require.NoError(t, err)
	assert.True(t, r.Terminal)
	assert.Equal(t, domain.GroupFailed, r.Snapshot.Status)
}

func TestCoordinatorAllCompleted(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	ids := newGroup(t, c, "g", 10_000, 1)

	_, _ = c.ReportComplete("g", 10_000, ids[0])
	r, err := c.ReportComplete("g", 1, ids[1])
	require.NoError(t, err)
	assert.True(t, r.Terminal)
	assert.Equal(t, domain.GroupCompleted, r.Snapshot.Status)
	assert.Equal(t, int64(10_001), r.Snapshot.CompletedAmount)
}

func TestCoordinatorDeduplicatesByTransaction(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	ids := newGroup(t, c, "g", 10_000, 10_000, 5_000)

	first, err := c.ReportComplete("g", 10_000, ids[0])
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	for i := 0; i < 3; i++ {
		r, err := c.ReportComplete("g", 10_000, ids[0])
		require.NoError(t, err)
		assert.True(t, r.Duplicate)
		assert.False(t, r.Terminal)
		r, err = c.ReportFailed("g", 10_000, ids[0])
		require.NoError(t, err)
		assert.True(t, r.Duplicate)
	}

	snap, ok := c.Get("g")
	require.True(t, ok)
	assert.Equal(t, 1, snap.CompletedCount)
	assert.Equal(t, 0, snap.FailedCount)
	assert.Equal(t, int64(10_000), snap.CompletedAmount)

	_, _ = c.ReportComplete("g", 10_000, ids[1])
	last, err := c.ReportFailed("g", 5_000, ids[2])
	require.NoError(t, err)
	assert.True(t, last.Terminal)

	again, err := c.ReportFailed("g", 5_000, ids[2])
	require.NoError(t, err)
	assert.False(t, again.Terminal)
	assert.True(t, again.Duplicate)
	assert.Equal(t, domain.GroupPartial, again.Snapshot.Status)
}

func TestCoordinatorRejectsUnknownReferences(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	_, err := c.ReportComplete("missing", 1, "tx")
	assert.True(t, errors.Is(err, domain.ErrUnknownReference))

	newGroup(t, c, "g", 1, 1)
	_, err = c.ReportComplete("g", 1, "stranger")
	assert.ErrorIs(t, err, domain.ErrUnknownReference)
}

func TestCoordinatorConcurrentDuplicatesResolveOnce(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(time.Hour, nil, nil)
	amounts := make([]int64, 20)
	for i := range amounts {
		amounts[i] = 100
	}
	ids := newGroup(t, c, "g", amounts...)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		terminals int
	)
	for round := 0; round < 4; round++ {
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				r, err := apply(c, "g", outcome{txID: id, amount: 100, completed: i%5 != 0})
				assert.NoError(t, err)
				if r.Terminal {
					mu.Lock()
					terminals++
					mu.Unlock()
				}
			}(i, id)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, terminals)
	snap, _ := c.Get("g")
	assert.Equal(t, 16, snap.CompletedCount)
	assert.Equal(t, 4, snap.FailedCount)
	assert.Equal(t, domain.GroupPartial, snap.Status)
}

func TestCoordinatorReleaseAndSweep(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(48*time.Hour, nil, nil)
	newGroup(t, c, "done", 1, 1)
	newGroup(t, c, "stale", 1, 1)

	c.Release("done")
	_, ok := c.Get("done")
	assert.False(t, ok)

	assert.Equal(t, 0, c.Sweep(time.Now()))
	assert.Equal(t, 1, c.Sweep(time.Now().Add(49*time.Hour)))
	_, ok = c.Get("stale")
	assert.False(t, ok)
}
