package repositories

import (
	"errors"
	"testing"
	"time"

	"chesshub/internal/models"
	"chesshub/internal/testhelpers"
)

func newRepo(t *testing.T) *UserRepository {
	t.Helper()
	return &UserRepository{DB: testhelpers.SetupTestDB(t)}
}

func seedUser(t *testing.T, repo *UserRepository, name string) *models.User {
	t.Helper()
	u := &models.User{
		UserID:       name,
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Rating:       models.DefaultRating,
	}
	if err := repo.CreateUser(u); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return u
}

func TestUserRepository_GetUserByID(t *testing.T) {
	repo := newRepo(t)
	seedUser(t, repo, "alice")

	t.Run("success", func(t *testing.T) {
		got, err := repo.GetUserByID("alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Username != "alice" {
			t.Fatalf("username = %q, want alice", got.Username)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := repo.GetUserByID("ghost"); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("error = %v, want ErrUserNotFound", err)
		}
	})
}

func TestUserRepository_UpdateStatus(t *testing.T) {
	repo := newRepo(t)
	seedUser(t, repo, "alice")

	if err := repo.UpdateStatus("alice", models.UserInGame); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := repo.GetUserByID("alice")
	if got.Status != models.UserInGame {
		t.Fatalf("status = %q, want in_game", got.Status)
	}
	if got.LastActive.IsZero() {
		t.Fatal("last_active not refreshed")
	}

	if err := repo.UpdateStatus("ghost", models.UserOnline); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_ApplyRating(t *testing.T) {
	repo := newRepo(t)
	seedUser(t, repo, "alice")

	if err := repo.ApplyRating("alice", 1216, "won"); err != nil {
		t.Fatalf("ApplyRating: %v", err)
	}
	got, _ := repo.GetUserByID("alice")
	if got.Rating != 1216 {
		t.Fatalf("rating = %d, want 1216", got.Rating)
	}
	if got.GamesPlayed != 1 || got.GamesWon != 1 || got.GamesLost != 0 {
		t.Fatalf("counters = played %d won %d lost %d, want 1/1/0",
			got.GamesPlayed, got.GamesWon, got.GamesLost)
	}

	if err := repo.ApplyRating("alice", 1200, "drawn"); err != nil {
		t.Fatalf("ApplyRating drawn: %v", err)
	}
	got, _ = repo.GetUserByID("alice")
	if got.GamesPlayed != 2 || got.GamesDrawn != 1 {
		t.Fatalf("counters after draw = played %d drawn %d, want 2/1", got.GamesPlayed, got.GamesDrawn)
	}

	if err := repo.ApplyRating("ghost", 1200, "won"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_ActivePlayers(t *testing.T) {
	repo := newRepo(t)
	seedUser(t, repo, "alice")
	seedUser(t, repo, "bob")
	seedUser(t, repo, "carol")

	if err := repo.UpdateStatus("alice", models.UserOnline); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := repo.UpdateStatus("bob", models.UserInGame); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	// carol stays offline and must not appear.

	players, err := repo.ActivePlayers(10)
	if err != nil {
		t.Fatalf("ActivePlayers: %v", err)
	}
	if len(players) != 2 {
		t.Fatalf("active players = %d, want 2", len(players))
	}
	for _, p := range players {
		if p.UserID == "carol" {
			t.Fatal("offline user listed as active")
		}
	}

	players, err = repo.ActivePlayers(1)
	if err != nil {
		t.Fatalf("ActivePlayers limited: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("limit ignored, got %d players", len(players))
	}
}

func TestUserRepository_StaleOnlineUsers(t *testing.T) {
	repo := newRepo(t)
	seedUser(t, repo, "alice")
	if err := repo.UpdateStatus("alice", models.UserOnline); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	stale, err := repo.StaleOnlineUsers(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("StaleOnlineUsers: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh user reported stale: %v", stale)
	}

	stale, err = repo.StaleOnlineUsers(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("StaleOnlineUsers: %v", err)
	}
	if len(stale) != 1 || stale[0].UserID != "alice" {
		t.Fatalf("stale = %v, want [alice]", stale)
	}
}
