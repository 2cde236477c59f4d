// Package registry tracks live game sessions in memory and mediates between
// the real-time layer and the game store. At most one Session exists per game
// id; all mutations on a session are serialized by its lock.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chesshub/internal/models"
	"chesshub/internal/oracle"
	"chesshub/internal/repositories"
)

var ErrPlayerNotFound = errors.New("player not found")

const (
	evictionPeriod    = 5 * time.Minute
	inactivityWindow  = 30 * time.Minute
	timeControlSuffix = "min"
)

// Session is the in-memory live representation of one game. The mutex is the
// per-game serialization lock: a move and a resignation on the same game are
// applied strictly one at a time, each seeing the effects of the previous.
type Session struct {
	ID      string
	Oracle  *oracle.Engine
	Players []models.PlayerSlot
	Status  string
	Options models.GameOptions

	// UndoRequestedBy holds the user id of an outstanding undo request.
	// Undo is a two-party agreement, so the request itself is session
	// state, not persisted.
	UndoRequestedBy string

	lastActive atomic.Int64
	mu         sync.Mutex
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch refreshes the activity timestamp that drives cache eviction.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the last activity timestamp.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// PlayerColor returns the color userID plays, or "" if not a participant.
func (s *Session) PlayerColor(userID string) string {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p.Color
		}
	}
	return ""
}

// Opponent returns the other participant's slot, or nil.
func (s *Session) Opponent(userID string) *models.PlayerSlot {
	for i := range s.Players {
		if s.Players[i].UserID != userID {
			return &s.Players[i]
		}
	}
	return nil
}

// Registry is the session cache. Eviction removes cache entries only; the
// persisted record always survives and reads transparently reload it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	games repositories.GameRepository
	users *repositories.UserRepository
	log   *zap.Logger
}

func New(games repositories.GameRepository, users *repositories.UserRepository, log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		games:    games,
		users:    users,
		log:      log,
	}
}

// Get returns the cached session for gameID, loading and reconstructing it
// from the game store on a miss. Returns repositories.ErrGameNotFound when
// no record exists.
func (r *Registry) Get(ctx context.Context, gameID string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[gameID]; ok {
		r.mu.Unlock()
		s.Touch()
		return s, nil
	}
	r.mu.Unlock()

	game, err := r.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	eng, err := RebuildOracle(game)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:      game.ID,
		Oracle:  eng,
		Players: append([]models.PlayerSlot(nil), game.Players...),
		Status:  game.Status,
		Options: models.GameOptions{TimeControl: game.TimeControl, IsRanked: game.IsRanked},
	}
	s.Touch()

	// Another goroutine may have loaded the same game during the store
	// round-trip; the first cached session wins.
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[gameID]; ok {
		existing.Touch()
		return existing, nil
	}
	r.sessions[gameID] = s
	return s, nil
}

// Create pairs two users into a new persisted game and caches its session.
// Colors are assigned by coin flip. The record is persisted before return.
func (r *Registry) Create(ctx context.Context, player1ID, player2ID string, opts models.GameOptions) (string, error) {
	u1, err := r.users.GetUserByID(player1ID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", ErrPlayerNotFound
		}
		return "", err
	}
	u2, err := r.users.GetUserByID(player2ID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", ErrPlayerNotFound
		}
		return "", err
	}

	white, black := u1, u2
	if n, cerr := rand.Int(rand.Reader, big.NewInt(2)); cerr == nil && n.Int64() == 0 {
		white, black = u2, u1
	}

	eng := oracle.New()
	base := baseTimeMillis(opts.TimeControl)
	game := &models.Game{
		ID: uuid.New().String(),
		Players: []models.PlayerSlot{
			{UserID: white.UserID, Username: white.Username, Color: models.ColorWhite, Rating: white.Rating, TimeRemaining: base},
			{UserID: black.UserID, Username: black.Username, Color: models.ColorBlack, Rating: black.Rating, TimeRemaining: base},
		},
		Moves:       []models.Move{},
		Position:    eng.FEN(),
		MoveLog:     "",
		Status:      models.StatusActive,
		Result:      models.ResultUnresolved,
		TimeControl: opts.TimeControl,
		IsRanked:    opts.IsRanked,
		DrawOffers:  []string{},
		LastMoveAt:  time.Now(),
	}
	if err := r.games.Create(ctx, game); err != nil {
		return "", fmt.Errorf("persist game: %w", err)
	}

	s := &Session{
		ID:      game.ID,
		Oracle:  eng,
		Players: append([]models.PlayerSlot(nil), game.Players...),
		Status:  game.Status,
		Options: opts,
	}
	s.Touch()

	r.mu.Lock()
	r.sessions[game.ID] = s
	r.mu.Unlock()

	r.log.Info("game_created",
		zap.String("game_id", game.ID),
		zap.String("white", white.UserID),
		zap.String("black", black.UserID),
		zap.String("time_control", opts.TimeControl),
		zap.Bool("ranked", opts.IsRanked),
	)
	return game.ID, nil
}

// Remove drops a session from the cache. Used by tests and by eviction.
func (r *Registry) Remove(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, gameID)
}

// Cached reports whether gameID currently has a live session.
func (r *Registry) Cached(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[gameID]
	return ok
}

// EvictStale removes sessions idle longer than threshold. An eviction never
// interrupts an in-flight mutation: it takes the session lock via TryLock
// and re-checks staleness, skipping sessions that are busy or were just
// touched. Returns the number evicted.
func (r *Registry) EvictStale(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)

	r.mu.Lock()
	candidates := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			candidates = append(candidates, s)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		if !s.mu.TryLock() {
			continue
		}
		if s.LastActive().Before(cutoff) {
			r.mu.Lock()
			delete(r.sessions, s.ID)
			r.mu.Unlock()
			evicted++
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		r.log.Info("sessions_evicted", zap.Int("count", evicted))
	}
	return evicted
}

// StartEvictionLoop runs the cache-maintenance sweep every evictionPeriod
// until ctx is done. It returns immediately; the loop runs on its own
// goroutine.
func (r *Registry) StartEvictionLoop(ctx context.Context) {
	ticker := time.NewTicker(evictionPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictStale(inactivityWindow)
			}
		}
	}()
}

// RebuildOracle reconstructs engine state from a persisted record. Replaying
// the move log keeps repetition and fifty-move history; the persisted
// position is the cross-check, with a position-only reload as fallback.
func RebuildOracle(game *models.Game) (*oracle.Engine, error) {
	if len(game.Moves) == 0 {
		if game.Position == "" {
			return oracle.New(), nil
		}
		return oracle.FromFEN(game.Position)
	}
	eng, err := oracle.Replay(game.UCIMoves())
	if err == nil && (game.Position == "" || eng.FEN() == game.Position) {
		return eng, nil
	}
	return oracle.FromFEN(game.Position)
}

// baseTimeMillis parses time controls of the form "10min" into a clock
// budget. Unknown forms get no clock.
func baseTimeMillis(tc string) int64 {
	trimmed := strings.TrimSuffix(strings.TrimSpace(tc), timeControlSuffix)
	minutes, err := strconv.Atoi(trimmed)
	if err != nil || minutes <= 0 {
		return 0
	}
	return int64(minutes) * 60 * 1000
}
