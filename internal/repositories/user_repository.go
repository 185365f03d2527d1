package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"im-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository covers the presence fields of the user record.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	// SetOnlineStatus writes the presence columns, creating the row of a user
	// this service has not seen before.
	SetOnlineStatus(ctx context.Context, userID string, status models.OnlineStatus, lastSeen *time.Time) error
	// ListOfflineUsers returns the last-seen time of every offline user.
	ListOfflineUsers(ctx context.Context) ([]models.LastSeen, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, email, profile_image, online_status, last_seen FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetOnlineStatus upserts the presence flag and last-seen time. Profile
// columns of an existing row are left alone.
func (r *UserRepo) SetOnlineStatus(ctx context.Context, userID string, status models.OnlineStatus, lastSeen *time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, online_status, last_seen)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET online_status = EXCLUDED.online_status, last_seen = EXCLUDED.last_seen`,
		userID, status, lastSeen)
	return err
}

// ListOfflineUsers returns offline users ordered by id.
func (r *UserRepo) ListOfflineUsers(ctx context.Context) ([]models.LastSeen, error) {
	users := []models.LastSeen{}
	err := r.db.SelectContext(ctx, &users, `SELECT id, last_seen FROM users WHERE online_status = 'offline' ORDER BY id`)
	return users, err
}
