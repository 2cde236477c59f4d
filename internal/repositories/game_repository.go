package repositories

import (
	"context"
	"errors"

	"chesshub/internal/models"
)

var ErrGameNotFound = errors.New("game not found")

// GameRepository is the game-store access layer. The production
// implementation is MongoDB (repositories/mongo); tests use the in-memory
// implementation (repositories/memory).
type GameRepository interface {
	Create(ctx context.Context, game *models.Game) error
	FindByID(ctx context.Context, id string) (*models.Game, error)
	// Update replaces the stored record's mutable fields wholesale. The
	// caller holds the per-game serialization lock, so last-write-wins is
	// safe here.
	Update(ctx context.Context, game *models.Game) error
	// SetPlayerDisconnected flags a player's slot; informational only, it
	// never forfeits the game.
	SetPlayerDisconnected(ctx context.Context, gameID, userID string, disconnected bool) error
}
