package leaderboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

type staticBalances []points.UserBalance

func (s staticBalances) Balances(context.Context) ([]points.UserBalance, error) {
	return s, nil
}

func TestNewRanking_SharedRanks(t *testing.T) {
	r := NewRanking([]points.UserBalance{
		{UserID: "d", Balance: 80},
		{UserID: "c", Balance: 90},
		{UserID: "a", Balance: 100},
		{UserID: "b", Balance: 90},
	})

	top := r.Top(10)
	require.Len(t, top, 4)
	assert.Equal(t, []Rank{1, 2, 2, 4}, []Rank{top[0].Rank, top[1].Rank, top[2].Rank, top[3].Rank})
	assert.Equal(t, shared.UserID("b"), top[1].UserID, "ties ordered by user ID")

	e, ok := r.Get("d")
	require.True(t, ok)
	assert.Equal(t, Rank(4), e.Rank)

	_, ok = r.Get("zz")
	assert.False(t, ok)
	assert.Nil(t, r.Top(0))
}

func TestLedgerBoard(t *testing.T) {
	board := NewLedgerBoard(staticBalances{
		{UserID: "u1", Balance: 10},
		{UserID: "u2", Balance: -5},
		{UserID: "u3", Balance: 30},
	})
	ctx := context.Background()

	top, err := board.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, shared.UserID("u3"), top[0].UserID)

	e, err := board.Rank(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, Rank(3), e.Rank)
	assert.Equal(t, -5, e.Balance)

	_, err = board.Rank(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotRanked)
	assert.True(t, shared.IsNotFound(err))

	assert.NoError(t, board.SetBalance(ctx, "u1", 1000), "ledger board ignores writes")
}
