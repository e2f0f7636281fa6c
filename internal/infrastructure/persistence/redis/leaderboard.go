package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learning-engine/internal/domain/leaderboard"
	"github.com/alem-hub/learning-engine/internal/domain/points"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
	"github.com/alem-hub/learning-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// One sorted set: member = user ID, score = balance. Ranks are shared between
// equal balances, so a rank is 1 + the number of strictly higher scores.
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard implements leaderboard.Board on a Redis sorted set.
type Leaderboard struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	key     string
	staging string
}

var _ leaderboard.Board = (*Leaderboard)(nil)

// NewLeaderboard creates the board. A nil breaker disables short-circuiting.
func NewLeaderboard(cache *Cache, breaker *circuitbreaker.CircuitBreaker) *Leaderboard {
	return &Leaderboard{
		cache:   cache,
		breaker: breaker,
		key:     cache.Key(keyLeaderboard),
		staging: cache.Key(keyLeaderboardRebuild),
	}
}

// SetBalance implements leaderboard.Board.
func (l *Leaderboard) SetBalance(ctx context.Context, userID shared.UserID, balance int) error {
	if userID.IsEmpty() {
		return ErrCacheKeyEmpty
	}
	return l.guard(ctx, func(ctx context.Context) error {
		return l.cache.Client().ZAdd(ctx, l.key, redis.Z{
			Score:  float64(balance),
			Member: userID.String(),
		}).Err()
	})
}

// Top implements leaderboard.Board.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var zs []redis.Z
	err := l.guard(ctx, func(ctx context.Context) error {
		var err error
		zs, err = l.cache.Client().ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return rankScores(zs), nil
}

// Rank implements leaderboard.Board.
func (l *Leaderboard) Rank(ctx context.Context, userID shared.UserID) (*leaderboard.Entry, error) {
	var entry *leaderboard.Entry
	err := l.guard(ctx, func(ctx context.Context) error {
		score, err := l.cache.Client().ZScore(ctx, l.key, userID.String()).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		higher, err := l.cache.Client().ZCount(ctx, l.key, "("+formatScore(score), "+inf").Result()
		if err != nil {
			return err
		}
		entry = &leaderboard.Entry{
			Rank:    leaderboard.Rank(higher + 1),
			UserID:  userID,
			Balance: int(score),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, leaderboard.ErrNotRanked
	}
	return entry, nil
}

// Replace implements leaderboard.Board. The new set is built under a staging
// key and renamed over the live one in a single transaction.
func (l *Leaderboard) Replace(ctx context.Context, balances []points.UserBalance) error {
	return l.guard(ctx, func(ctx context.Context) error {
		pipe := l.cache.Client().TxPipeline()
		pipe.Del(ctx, l.staging)
		if len(balances) == 0 {
			pipe.Del(ctx, l.key)
		} else {
			members := make([]redis.Z, 0, len(balances))
			for _, b := range balances {
				members = append(members, redis.Z{Score: float64(b.Balance), Member: b.UserID.String()})
			}
			pipe.ZAdd(ctx, l.staging, members...)
			pipe.Rename(ctx, l.staging, l.key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("rebuild leaderboard: %w", err)
		}
		return nil
	})
}

func (l *Leaderboard) guard(ctx context.Context, fn func(context.Context) error) error {
	if l.breaker == nil {
		return fn(ctx)
	}
	return l.breaker.Execute(ctx, fn)
}

// rankScores assigns shared ranks to a descending slice starting at rank 1.
func rankScores(zs []redis.Z) []leaderboard.Entry {
	out := make([]leaderboard.Entry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		e := leaderboard.Entry{
			Rank:    leaderboard.Rank(i + 1),
			UserID:  shared.UserID(member),
			Balance: int(z.Score),
		}
		if i > 0 && z.Score == zs[i-1].Score {
			e.Rank = out[i-1].Rank
		}
		out = append(out, e)
	}
	return out
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
