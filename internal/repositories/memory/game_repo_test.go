package memory

import (
	"context"
	"errors"
	"testing"

	"chesshub/internal/models"
	"chesshub/internal/repositories"
)

func seedGame(t *testing.T, repo *GameRepo) *models.Game {
	t.Helper()
	game := &models.Game{
		ID:     "g1",
		Status: models.StatusActive,
		Result: models.ResultUnresolved,
		Players: []models.PlayerSlot{
			{UserID: "alice", Username: "alice", Color: models.ColorWhite},
			{UserID: "bob", Username: "bob", Color: models.ColorBlack},
		},
	}
	if err := repo.Create(context.Background(), game); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return game
}

func TestFindByIDReturnsCopy(t *testing.T) {
	repo := NewGameRepo()
	seedGame(t, repo)
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "g1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	// Mutating the returned value must not leak into the store.
	got.Players[0].Username = "mallory"
	got.Moves = append(got.Moves, models.Move{From: "e2", To: "e4"})

	again, _ := repo.FindByID(ctx, "g1")
	if again.Players[0].Username != "alice" {
		t.Fatal("stored player mutated through returned copy")
	}
	if len(again.Moves) != 0 {
		t.Fatal("stored moves mutated through returned copy")
	}
}

func TestFindByIDMissing(t *testing.T) {
	repo := NewGameRepo()
	if _, err := repo.FindByID(context.Background(), "nope"); !errors.Is(err, repositories.ErrGameNotFound) {
		t.Fatalf("error = %v, want ErrGameNotFound", err)
	}
}

func TestUpdateReplacesRecord(t *testing.T) {
	repo := NewGameRepo()
	game := seedGame(t, repo)
	ctx := context.Background()

	game.Status = models.StatusCompleted
	game.Result = models.ResultDraw
	if err := repo.Update(ctx, game); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := repo.FindByID(ctx, "g1")
	if got.Status != models.StatusCompleted || got.Result != models.ResultDraw {
		t.Fatalf("update not applied: %s/%s", got.Status, got.Result)
	}

	if err := repo.Update(ctx, &models.Game{ID: "nope"}); !errors.Is(err, repositories.ErrGameNotFound) {
		t.Fatalf("error = %v, want ErrGameNotFound", err)
	}
}

func TestSetPlayerDisconnected(t *testing.T) {
	repo := NewGameRepo()
	seedGame(t, repo)
	ctx := context.Background()

	if err := repo.SetPlayerDisconnected(ctx, "g1", "bob", true); err != nil {
		t.Fatalf("SetPlayerDisconnected: %v", err)
	}
	got, _ := repo.FindByID(ctx, "g1")
	for _, p := range got.Players {
		if p.UserID == "bob" && !p.Disconnected {
			t.Fatal("bob not flagged disconnected")
		}
		if p.UserID == "alice" && p.Disconnected {
			t.Fatal("alice wrongly flagged")
		}
	}

	if err := repo.SetPlayerDisconnected(ctx, "g1", "ghost", true); !errors.Is(err, repositories.ErrGameNotFound) {
		t.Fatalf("error = %v, want ErrGameNotFound", err)
	}
}
