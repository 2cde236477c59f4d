// Package memory holds an in-memory GameRepository used by tests and local
// development without a MongoDB instance.
package memory

import (
	"context"
	"sync"
	"time"

	"chesshub/internal/models"
	"chesshub/internal/repositories"
)

type GameRepo struct {
	mu    sync.RWMutex
	games map[string]models.Game
}

func NewGameRepo() *GameRepo {
	return &GameRepo{games: make(map[string]models.Game)}
}

func (r *GameRepo) Create(_ context.Context, game *models.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	game.CreatedAt, game.UpdatedAt = now, now
	r.games[game.ID] = cloneGame(game)
	return nil
}

func (r *GameRepo) FindByID(_ context.Context, id string) (*models.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, repositories.ErrGameNotFound
	}
	out := cloneGame(&g)
	return &out, nil
}

func (r *GameRepo) Update(_ context.Context, game *models.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[game.ID]; !ok {
		return repositories.ErrGameNotFound
	}
	game.UpdatedAt = time.Now().UTC()
	r.games[game.ID] = cloneGame(game)
	return nil
}

func (r *GameRepo) SetPlayerDisconnected(_ context.Context, gameID, userID string, disconnected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[gameID]
	if !ok {
		return repositories.ErrGameNotFound
	}
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			g.Players[i].Disconnected = disconnected
			g.UpdatedAt = time.Now().UTC()
			r.games[gameID] = g
			return nil
		}
	}
	return repositories.ErrGameNotFound
}

// cloneGame deep-copies the slices so callers cannot alias stored state.
func cloneGame(g *models.Game) models.Game {
	out := *g
	out.Players = append([]models.PlayerSlot(nil), g.Players...)
	out.Moves = append([]models.Move(nil), g.Moves...)
	out.DrawOffers = append([]string(nil), g.DrawOffers...)
	return out
}
