// Package matchmaking pairs waiting players by compatible options. Queues
// are in-memory per process and guarded by a single queue-wide lock; they
// are low-contention.
package matchmaking

import (
	"errors"
	"sync"
	"time"
)

var ErrAlreadyQueued = errors.New("user already queued")

// Entry is one waiting player.
type Entry struct {
	UserID      string
	TimeControl string
	Mode        string
	EnqueuedAt  time.Time
}

// Pair is a successful match.
type Pair struct {
	First  Entry
	Second Entry
}

// Queue holds per-mode FIFO waiting lists.
type Queue struct {
	mu     sync.Mutex
	queues map[string][]Entry
}

func NewQueue() *Queue {
	return &Queue{queues: make(map[string][]Entry)}
}

// Enqueue appends an entry. A user may hold at most one entry across all
// modes at a time.
func (q *Queue) Enqueue(userID, mode, timeControl string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entries := range q.queues {
		for _, e := range entries {
			if e.UserID == userID {
				return ErrAlreadyQueued
			}
		}
	}
	q.queues[mode] = append(q.queues[mode], Entry{
		UserID:      userID,
		TimeControl: timeControl,
		Mode:        mode,
		EnqueuedAt:  time.Now(),
	})
	return nil
}

// AttemptMatch scans the mode's queue pairwise in arrival order: for entry i,
// the first later entry with the same time control wins. The matched pair is
// removed; everyone else keeps their relative order. Returns nil when no
// compatible pair exists.
func (q *Queue) AttemptMatch(mode string) *Pair {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[mode]
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[i].TimeControl != entries[j].TimeControl {
				continue
			}
			pair := &Pair{First: entries[i], Second: entries[j]}
			remaining := make([]Entry, 0, len(entries)-2)
			for k, e := range entries {
				if k == i || k == j {
					continue
				}
				remaining = append(remaining, e)
			}
			q.queues[mode] = remaining
			return pair
		}
	}
	return nil
}

// Dequeue removes any entry for userID across all modes. Idempotent.
func (q *Queue) Dequeue(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for mode, entries := range q.queues {
		kept := entries[:0]
		for _, e := range entries {
			if e.UserID != userID {
				kept = append(kept, e)
			}
		}
		q.queues[mode] = kept
	}
}

// Waiting reports how many entries the mode currently holds.
func (q *Queue) Waiting(mode string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[mode])
}
