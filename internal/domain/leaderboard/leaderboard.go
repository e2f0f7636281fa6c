// Package leaderboard ranks users by points balance.
//
// The ledger is the source of truth; a Board is a read-optimised copy that
// can always be rebuilt from points.Repository.Balances.
package leaderboard

import (
	"context"
	"errors"
	"sort"

	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a 1-based position. Users with equal balances share a rank.
type Rank int

// IsValid reports whether the rank is a real position.
func (r Rank) IsValid() bool {
	return r >= 1
}

// Entry is one row of the leaderboard.
type Entry struct {
	Rank    Rank          `json:"rank"`
	UserID  shared.UserID `json:"user_id"`
	Balance int           `json:"balance"`
}

// ErrNotRanked is returned by Board.Rank for a user with no ledger rows.
var ErrNotRanked = shared.NewDomainError("leaderboard", "Rank", shared.ErrNotFound, "user is not on the leaderboard")

// ══════════════════════════════════════════════════════════════════════════════
// BOARD
// ══════════════════════════════════════════════════════════════════════════════

// Board stores the ranking.
type Board interface {
	// SetBalance records a user's latest balance.
	SetBalance(ctx context.Context, userID shared.UserID, balance int) error

	// Top returns the best entries, at most limit.
	Top(ctx context.Context, limit int) ([]Entry, error)

	// Rank returns the user's entry or ErrNotRanked.
	Rank(ctx context.Context, userID shared.UserID) (*Entry, error)

	// Replace swaps the whole ranking for the given balances.
	Replace(ctx context.Context, balances []points.UserBalance) error
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is a sorted, ranked snapshot of balances.
type Ranking struct {
	entries []Entry
	byID    map[shared.UserID]int
}

// NewRanking sorts balances descending (ties by user ID) and assigns
// shared ranks: 100, 90, 90, 80 rank as 1, 2, 2, 4.
func NewRanking(balances []points.UserBalance) *Ranking {
	entries := make([]Entry, len(balances))
	for i, b := range balances {
		entries[i] = Entry{UserID: b.UserID, Balance: b.Balance}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance != entries[j].Balance {
			return entries[i].Balance > entries[j].Balance
		}
		return entries[i].UserID < entries[j].UserID
	})

	r := &Ranking{entries: entries, byID: make(map[shared.UserID]int, len(entries))}
	for i := range entries {
		if i > 0 && entries[i].Balance == entries[i-1].Balance {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = Rank(i + 1)
		}
		r.byID[entries[i].UserID] = i
	}
	return r
}

// Len returns the number of ranked users.
func (r *Ranking) Len() int {
	return len(r.entries)
}

// Top returns up to n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, n)
	copy(out, r.entries[:n])
	return out
}

// Get returns the user's entry.
func (r *Ranking) Get(userID shared.UserID) (Entry, bool) {
	i, ok := r.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER BOARD
// ══════════════════════════════════════════════════════════════════════════════

// BalanceSource lists every user's balance.
type BalanceSource interface {
	Balances(ctx context.Context) ([]points.UserBalance, error)
}

// LedgerBoard computes the ranking from the ledger on every read.
// Writes are no-ops because the ledger already holds the data.
type LedgerBoard struct {
	source BalanceSource
}

// NewLedgerBoard creates a LedgerBoard.
func NewLedgerBoard(source BalanceSource) *LedgerBoard {
	return &LedgerBoard{source: source}
}

// SetBalance implements Board.
func (b *LedgerBoard) SetBalance(context.Context, shared.UserID, int) error { return nil }

// Replace implements Board.
func (b *LedgerBoard) Replace(context.Context, []points.UserBalance) error { return nil }

// Top implements Board.
func (b *LedgerBoard) Top(ctx context.Context, limit int) ([]Entry, error) {
	r, err := b.ranking(ctx)
	if err != nil {
		return nil, err
	}
	return r.Top(limit), nil
}

// Rank implements Board.
func (b *LedgerBoard) Rank(ctx context.Context, userID shared.UserID) (*Entry, error) {
	r, err := b.ranking(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := r.Get(userID)
	if !ok {
		return nil, ErrNotRanked
	}
	return &e, nil
}

func (b *LedgerBoard) ranking(ctx context.Context) (*Ranking, error) {
	if b.source == nil {
		return nil, errors.New("leaderboard: no balance source")
	}
	balances, err := b.source.Balances(ctx)
	if err != nil {
		return nil, err
	}
	return NewRanking(balances), nil
}
