package models

import "time"

// User presence statuses kept in the user directory.
const (
	UserOnline    = "online"
	UserOffline   = "offline"
	UserInGame    = "in_game"
	UserSearching = "looking_for_match"
)

// DefaultRating is assigned to new accounts.
const DefaultRating = 1200

// User is the durable account record.
type User struct {
	UserID       string `gorm:"primaryKey;column:user_id" json:"userId"`
	Username     string `gorm:"uniqueIndex" json:"username"`
	Email        string `gorm:"uniqueIndex" json:"email"`
	PasswordHash string `json:"-"`

	Rating      int `gorm:"default:1200" json:"rating"`
	GamesPlayed int `json:"gamesPlayed"`
	GamesWon    int `json:"gamesWon"`
	GamesLost   int `json:"gamesLost"`
	GamesDrawn  int `json:"gamesDrawn"`

	Status     string    `gorm:"default:offline" json:"status"`
	LastActive time.Time `json:"lastActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicUser is the projection sent to other players.
type PublicUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Status   string `json:"status"`
}

func (u *User) Public() PublicUser {
	return PublicUser{UserID: u.UserID, Username: u.Username, Rating: u.Rating, Status: u.Status}
}
