package user

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// User is identified externally by its wallet address.
type User struct {
	ID             string    `json:"id"`
	WalletAddress  string    `json:"wallet_address"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	Bio            string    `json:"bio"`
	AvatarURL      string    `json:"avatar_url"`
	CoverPhotoURL  string    `json:"cover_photo_url"`
	FollowersCount int       `json:"followers_count"`
	FollowingCount int       `json:"following_count"`
	Verified       bool      `json:"verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	ErrWalletRequired  = errors.New("wallet address required")
	ErrInvalidUsername = errors.New("username must be 3-30 characters of a-z, 0-9 or _")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// DefaultUsername derives the username assigned on first wallet connection.
func DefaultUsername(wallet string) string {
	prefix := wallet
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "user_" + strings.ToLower(prefix)
}

// Validate checks the fields a profile edit may touch.
func (u User) Validate() error {
	if strings.TrimSpace(u.WalletAddress) == "" {
		return ErrWalletRequired
	}
	if !usernamePattern.MatchString(u.Username) {
		return ErrInvalidUsername
	}
	return nil
}
