package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"chesshub/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the user-directory access layer.
type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) CreateUser(user *models.User) error {
	return r.DB.Create(user).Error
}

func (r *UserRepository) GetUserByID(userID string) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, err
}

func (r *UserRepository) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, err
}

func (r *UserRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return &user, err
}

// UpdateStatus transitions the directory presence field.
func (r *UserRepository) UpdateStatus(userID, status string) error {
	result := r.DB.Model(&models.User{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"status": status, "last_active": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLastActive refreshes the directory activity timestamp.
func (r *UserRepository) TouchLastActive(userID string) error {
	return r.DB.Model(&models.User{}).Where("user_id = ?", userID).
		Update("last_active", time.Now()).Error
}

// ApplyRating persists a rating change plus the matching game counters. Each
// call is self-contained; no cross-user transaction is needed.
func (r *UserRepository) ApplyRating(userID string, newRating int, outcome string) error {
	updates := map[string]interface{}{
		"rating":       newRating,
		"games_played": gorm.Expr("games_played + 1"),
	}
	switch outcome {
	case "won":
		updates["games_won"] = gorm.Expr("games_won + 1")
	case "lost":
		updates["games_lost"] = gorm.Expr("games_lost + 1")
	case "drawn":
		updates["games_drawn"] = gorm.Expr("games_drawn + 1")
	}
	result := r.DB.Model(&models.User{}).Where("user_id = ?", userID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// StaleOnlineUsers lists users still marked present whose last_active is
// older than cutoff; the liveness sweep flips them offline.
func (r *UserRepository) StaleOnlineUsers(cutoff time.Time) ([]models.User, error) {
	var users []models.User
	err := r.DB.Where("status <> ? AND last_active < ?", models.UserOffline, cutoff).Find(&users).Error
	return users, err
}

// ActivePlayers lists non-offline users, most recently active first.
func (r *UserRepository) ActivePlayers(limit int) ([]models.User, error) {
	var users []models.User
	q := r.DB.Where("status <> ?", models.UserOffline).Order("last_active desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&users).Error
	return users, err
}
