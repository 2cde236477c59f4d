package mongo

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"chesshub/internal/models"
	"chesshub/internal/repositories"
)

// GameRepo stores game records in a MongoDB collection.
type GameRepo struct{ col *mongo.Collection }

func NewGameRepo(c *Client) (*GameRepo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	colName := os.Getenv("GAMES_COLLECTION")
	if colName == "" {
		colName = "games"
	}
	return &GameRepo{col: db.Collection(colName)}, nil
}

func (r *GameRepo) Create(ctx context.Context, game *models.Game) error {
	now := time.Now().UTC()
	game.CreatedAt, game.UpdatedAt = now, now
	_, err := r.col.InsertOne(ctx, game)
	return err
}

func (r *GameRepo) FindByID(ctx context.Context, id string) (*models.Game, error) {
	var g models.Game
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repositories.ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GameRepo) Update(ctx context.Context, game *models.Game) error {
	game.UpdatedAt = time.Now().UTC()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": game.ID}, game)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repositories.ErrGameNotFound
	}
	return nil
}

func (r *GameRepo) SetPlayerDisconnected(ctx context.Context, gameID, userID string, disconnected bool) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": gameID, "players.user_id": userID},
		bson.M{"$set": bson.M{
			"players.$.disconnected": disconnected,
			"updated_at":             time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repositories.ErrGameNotFound
	}
	return nil
}
