package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chesshub/internal/models"
	"chesshub/internal/pipeline"
	"chesshub/internal/registry"
	"chesshub/internal/repositories"
	"chesshub/internal/repositories/memory"
	"chesshub/internal/testhelpers"
)

func newGameHandler(t *testing.T) (*GameHandler, string) {
	t.Helper()
	users := &repositories.UserRepository{DB: testhelpers.SetupTestDB(t)}
	for _, name := range []string{"alice", "bob"} {
		u := &models.User{
			UserID:       name,
			Username:     name,
			Email:        name + "@example.com",
			PasswordHash: "hash",
			Rating:       models.DefaultRating,
		}
		if err := users.CreateUser(u); err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
	}
	log := zap.NewNop()
	games := memory.NewGameRepo()
	reg := registry.New(games, users, log)
	pipe := pipeline.New(reg, games, users, nil, log)

	gameID, err := reg.Create(context.Background(), "alice", "bob", models.GameOptions{TimeControl: "10min"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewGameHandler(pipe, users), gameID
}

func serveGame(h *GameHandler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/v1/games/{id}", h.GetGame)
	r.Get("/api/v1/players/active", h.GetActivePlayers)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetGame(t *testing.T) {
	h, gameID := newGameHandler(t)

	t.Run("success", func(t *testing.T) {
		rec := serveGame(h, "/api/v1/games/"+gameID)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var view models.GameView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode view: %v", err)
		}
		if view.GameID != gameID || view.Turn != "white" || len(view.Players) != 2 {
			t.Fatalf("view = %+v", view)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := serveGame(h, "/api/v1/games/nope")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestGetActivePlayers(t *testing.T) {
	h, _ := newGameHandler(t)
	if err := h.Users.UpdateStatus("alice", models.UserOnline); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rec := serveGame(h, "/api/v1/players/active?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp models.LobbyPlayersEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Players[0].UserID != "alice" {
		t.Fatalf("resp = %+v, want just alice", resp)
	}

	rec = serveGame(h, "/api/v1/players/active?limit=zero")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
