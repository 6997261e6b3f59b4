package lottery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikiti/tikiti/internal/model"
)

func newTestPool(cfg RoundConfig) *Pool {
	return NewPool(model.Round{
		ID:       1,
		Capacity: cfg.Capacity,
		Price:    cfg.Price,
		Status:   model.RoundOpen,
	}, cfg, nil)
}

func TestReserveGrantsWhatIsLeft(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 5, Price: 10})

	a, err := p.Reserve("a", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Granted)
	assert.Equal(t, int64(40), a.Amount())

	b, err := p.Reserve("b", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Granted)
	assert.Equal(t, 3, b.Requested)

	_, err = p.Reserve("c", 1)
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestReserveRejectsBadQuantity(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 5, Price: 10, MaxTicketsPerPurchase: 3})

	for _, q := range []int{0, -1, 4} {
		_, err := p.Reserve("a", q)
		assert.ErrorIs(t, err, ErrInvalidQuantity, "quantity %d", q)
	}
}

func TestReleaseReturnsCapacity(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 3, Price: 10})

	res, err := p.Reserve("a", 3)
	require.NoError(t, err)
	_, err = p.Reserve("b", 1)
	require.ErrorIs(t, err, ErrSoldOut)

	p.Release(res)
	p.Release(res) // second release is a no-op

	res, err = p.Reserve("b", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Granted)
	assert.Equal(t, 0, p.Snapshot().Sold)
}

func TestCommitNumbersFollowCommitOrder(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 10, Price: 10})

	a, _ := p.Reserve("a", 2)
	b, _ := p.Reserve("b", 3)

	nb, completed, err := p.Commit(b, nil)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, []int{1, 2, 3}, nb)

	na, _, err := p.Commit(a, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, na)

	assert.Equal(t, []int{4, 5}, p.UserTickets("a"))
	owner, ok := p.Owner(2)
	assert.True(t, ok)
	assert.Equal(t, "b", owner)
	_, ok = p.Owner(6)
	assert.False(t, ok)

	_, _, err = p.Commit(a, nil)
	assert.ErrorIs(t, err, ErrUnknownReservation)
}

func TestCommitLatchFiresOnce(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 3, Price: 10})

	a, _ := p.Reserve("a", 2)
	b, _ := p.Reserve("b", 1)

	_, completedA, err := p.Commit(a, nil)
	require.NoError(t, err)
	_, completedB, err := p.Commit(b, nil)
	require.NoError(t, err)

	assert.False(t, completedA)
	assert.True(t, completedB)
	assert.Equal(t, model.RoundSettling, p.Snapshot().Status)

	_, err = p.Reserve("c", 1)
	assert.ErrorIs(t, err, ErrRoundNotOpen)
}

func TestPerUserLimitTrimsGrant(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 50, Price: 50, MaxTicketsPerUser: 3})

	res, err := p.Reserve("a", 2)
	require.NoError(t, err)
	_, _, err = p.Commit(res, nil)
	require.NoError(t, err)

	res, err = p.Reserve("a", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Granted)
	p.Release(res)

	res, err = p.Reserve("a", 1)
	require.NoError(t, err)
	_, _, err = p.Commit(res, nil)
	require.NoError(t, err)

	_, err = p.Reserve("a", 1)
	assert.ErrorIs(t, err, ErrUserLimitReached)
}

func TestCommitDetectsBrokenPool(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 5, Price: 10})

	res, err := p.Reserve("a", 2)
	require.NoError(t, err)

	p.mu.Lock()
	p.round.Sold = 4
	p.mu.Unlock()

	_, _, err = p.Commit(res, nil)
	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 6, inv.Sold)
	assert.Equal(t, model.RoundAborted, p.Snapshot().Status)
}

func TestNewPoolRestoresTickets(t *testing.T) {
	t.Parallel()
	cfg := RoundConfig{Capacity: 5, Price: 10}
	tickets := []model.Ticket{
		{RoundID: 1, Number: 2, UserID: "b"},
		{RoundID: 1, Number: 1, UserID: "a"},
		{RoundID: 1, Number: 3, UserID: "a"},
	}
	p := NewPool(model.Round{ID: 1, Capacity: 5, Price: 10, Status: model.RoundOpen}, cfg, tickets)

	assert.Equal(t, 3, p.Snapshot().Sold)
	assert.Equal(t, []int{1, 3}, p.UserTickets("a"))

	res, err := p.Reserve("c", 5)
	require.NoError(t, err)
	nums, completed, err := p.Commit(res, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, nums)
	assert.True(t, completed)
}

func TestCommitPersistFailureSellsNothing(t *testing.T) {
	t.Parallel()
	p := newTestPool(RoundConfig{Capacity: 3, Price: 10, MaxTicketsPerUser: 3})

	res, err := p.Reserve("a", 3)
	require.NoError(t, err)

	dbDown := errors.New("db down")
	var seen []int
	var seenCompleted bool
	_, completed, err := p.Commit(res, func(numbers []int, completed bool) error {
		seen, seenCompleted = numbers, completed
		return dbDown
	})
	require.ErrorIs(t, err, dbDown)
	assert.False(t, completed)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.True(t, seenCompleted)

	round := p.Snapshot()
	assert.Equal(t, 0, round.Sold)
	assert.Equal(t, model.RoundOpen, round.Status)
	assert.Empty(t, p.UserTickets("a"))

	// Capacity and the per-user allowance are both back.
	res, err = p.Reserve("a", 3)
	require.NoError(t, err)
	nums, completed, err := p.Commit(res, func([]int, bool) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, nums)
	assert.True(t, completed)
}
