package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chesshub/internal/models"
	"chesshub/internal/pipeline"
	"chesshub/internal/repositories"
	"chesshub/internal/utils"
)

// GameHandler serves the read-only REST views of games and players.
type GameHandler struct {
	Pipeline *pipeline.Pipeline
	Users    *repositories.UserRepository
}

func NewGameHandler(pipe *pipeline.Pipeline, users *repositories.UserRepository) *GameHandler {
	return &GameHandler{Pipeline: pipe, Users: users}
}

// GetGame returns the full game view for spectating or state recovery.
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "id")
	if gameID == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing game id")
		return
	}
	view, err := h.Pipeline.GameView(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, repositories.ErrGameNotFound) {
			utils.JSONError(w, http.StatusNotFound, "game not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "failed to load game")
		return
	}
	utils.JSON(w, http.StatusOK, view)
}

// GetActivePlayers lists non-offline players, most recently active first.
func (h *GameHandler) GetActivePlayers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	players, err := h.Users.ActivePlayers(limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "failed to list players")
		return
	}
	public := make([]models.PublicUser, 0, len(players))
	for i := range players {
		public = append(public, players[i].Public())
	}
	utils.JSON(w, http.StatusOK, models.LobbyPlayersEvent{Players: public, Count: len(public)})
}
