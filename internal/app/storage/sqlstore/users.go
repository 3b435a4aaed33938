package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nightstudio/paywall/internal/app/domain/user"
)

type userRow struct {
	ID             string    `db:"id"`
	WalletAddress  string    `db:"wallet_address"`
	Username       string    `db:"username"`
	DisplayName    string    `db:"display_name"`
	Bio            string    `db:"bio"`
	AvatarURL      string    `db:"avatar_url"`
	CoverPhotoURL  string    `db:"cover_photo_url"`
	FollowersCount int       `db:"followers_count"`
	FollowingCount int       `db:"following_count"`
	Verified       bool      `db:"verified"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:             r.ID,
		WalletAddress:  r.WalletAddress,
		Username:       r.Username,
		DisplayName:    r.DisplayName,
		Bio:            r.Bio,
		AvatarURL:      r.AvatarURL,
		CoverPhotoURL:  r.CoverPhotoURL,
		FollowersCount: r.FollowersCount,
		FollowingCount: r.FollowingCount,
		Verified:       r.Verified,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const userColumns = `id, wallet_address, username, display_name, bio, avatar_url, cover_photo_url,
	followers_count, following_count, verified, created_at, updated_at`

func (s *Store) getUserBy(ctx context.Context, column, value string) (user.User, error) {
	var row userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`)
	if err := s.db.GetContext(ctx, &row, query, value); err != nil {
		return user.User{}, s.mapError(err, "user "+value)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *Store) GetUserByWallet(ctx context.Context, wallet string) (user.User, error) {
	return s.getUserBy(ctx, "wallet_address", wallet)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *Store) UpsertUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := s.db.Rebind(`
		INSERT INTO users (id, wallet_address, username, display_name, bio, avatar_url, cover_photo_url,
			followers_count, following_count, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
		ON CONFLICT (wallet_address) DO NOTHING
	`)
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.WalletAddress, u.Username, u.DisplayName, u.Bio, u.AvatarURL, u.CoverPhotoURL,
		u.Verified, now, now)
	if err != nil {
		return user.User{}, s.mapError(err, "upsert user "+u.WalletAddress)
	}
	return s.GetUserByWallet(ctx, u.WalletAddress)
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	query := s.db.Rebind(`
		UPDATE users
		SET username = ?, display_name = ?, bio = ?, avatar_url = ?, cover_photo_url = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query,
		u.Username, u.DisplayName, u.Bio, u.AvatarURL, u.CoverPhotoURL, time.Now().UTC(), u.ID)
	if err != nil {
		return user.User{}, s.mapError(err, "update user "+u.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, s.mapError(sql.ErrNoRows, "update user "+u.ID)
	}
	return s.GetUser(ctx, u.ID)
}
