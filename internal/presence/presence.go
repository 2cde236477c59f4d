// Package presence tracks connected players in Redis and sweeps stale
// entries back to offline in the user directory.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chesshub/internal/models"
	"chesshub/internal/repositories"
)

const (
	keyPrefix = "presence:"

	// SweepPeriod is how often the liveness sweep runs.
	SweepPeriod = 15 * time.Second
	// StaleAfter is how long without a heartbeat before a user is
	// considered gone.
	StaleAfter = 30 * time.Second
)

// Tracker keeps one Redis hash per connected user:
//
//	presence:<userID> {connection_id, last_active, current_game}
type Tracker struct {
	rdb   *redis.Client
	users *repositories.UserRepository
	log   *zap.Logger
}

func New(rdb *redis.Client, users *repositories.UserRepository, log *zap.Logger) *Tracker {
	return &Tracker{rdb: rdb, users: users, log: log}
}

// Bind records a fresh connection for userID and marks them online.
func (t *Tracker) Bind(ctx context.Context, userID, connectionID string) error {
	err := t.rdb.HSet(ctx, keyPrefix+userID, map[string]interface{}{
		"connection_id": connectionID,
		"last_active":   strconv.FormatInt(time.Now().UnixMilli(), 10),
		"current_game":  "",
	}).Err()
	if err != nil {
		return err
	}
	return t.users.UpdateStatus(userID, models.UserOnline)
}

// Touch refreshes the heartbeat timestamp, in Redis and in the directory's
// last_active column that drives the active-player roster ordering.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	if err := t.rdb.HSet(ctx, keyPrefix+userID,
		"last_active", strconv.FormatInt(time.Now().UnixMilli(), 10),
	).Err(); err != nil {
		return err
	}
	return t.users.TouchLastActive(userID)
}

// SetGame records which game the user is currently in ("" clears it).
func (t *Tracker) SetGame(ctx context.Context, userID, gameID string) error {
	return t.rdb.HSet(ctx, keyPrefix+userID, "current_game", gameID).Err()
}

// CurrentGame returns the game the user is bound to, or "".
func (t *Tracker) CurrentGame(ctx context.Context, userID string) (string, error) {
	val, err := t.rdb.HGet(ctx, keyPrefix+userID, "current_game").Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Clear removes the presence entry and marks the user offline.
func (t *Tracker) Clear(ctx context.Context, userID string) error {
	if err := t.rdb.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return err
	}
	return t.users.UpdateStatus(userID, models.UserOffline)
}

// Sweep scans presence hashes and flips users whose heartbeat is older than
// StaleAfter back to offline. Returns the ids it transitioned; a non-empty
// result means the lobby roster changed.
func (t *Tracker) Sweep(ctx context.Context) ([]string, error) {
	var stale []string
	iter := t.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	now := time.Now().UnixMilli()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := t.rdb.HGet(ctx, key, "last_active").Result()
		if err != nil {
			continue
		}
		last, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || now-last <= StaleAfter.Milliseconds() {
			continue
		}
		userID := key[len(keyPrefix):]
		if err := t.rdb.Del(ctx, key).Err(); err != nil {
			t.log.Warn("presence_del_failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if err := t.users.UpdateStatus(userID, models.UserOffline); err != nil {
			t.log.Warn("presence_offline_failed", zap.String("user_id", userID), zap.Error(err))
		}
		stale = append(stale, userID)
	}
	if err := iter.Err(); err != nil {
		return stale, err
	}

	// Directory-side pass: users still marked non-offline whose presence
	// hash is gone (a crashed process never ran Clear for them).
	ghosts, err := t.users.StaleOnlineUsers(time.Now().Add(-StaleAfter))
	if err != nil {
		return stale, err
	}
	for _, u := range ghosts {
		exists, err := t.rdb.Exists(ctx, keyPrefix+u.UserID).Result()
		if err != nil || exists > 0 {
			continue
		}
		if err := t.users.UpdateStatus(u.UserID, models.UserOffline); err != nil {
			t.log.Warn("presence_offline_failed", zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		stale = append(stale, u.UserID)
	}
	return stale, nil
}

// StartSweepLoop runs Sweep every SweepPeriod until ctx is done. onChange is
// invoked with the removed ids whenever a sweep evicted anyone.
func (t *Tracker) StartSweepLoop(ctx context.Context, onChange func([]string)) {
	ticker := time.NewTicker(SweepPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := t.Sweep(ctx)
				if err != nil {
					t.log.Warn("presence_sweep_failed", zap.Error(err))
				}
				if len(removed) > 0 && onChange != nil {
					onChange(removed)
				}
			}
		}
	}()
}
