// Package users manages wallet-backed profiles and the follow graph.
package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/storage"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/pkg/logger"
)

const (
	maxDisplayName = 50
	maxBio         = 160
	maxURL         = 2048

	// username clash retries when deriving a default username
	usernameAttempts = 5
)

// Store is the persistence the service needs.
type Store interface {
	storage.UserStore
	storage.FollowStore
}

// Service manages users.
type Service struct {
	store Store
	log   *logger.Logger
}

// New constructs a user service.
func New(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// ConnectWallet returns the user owning wallet, creating one with a default
// username on first connection.
func (s *Service) ConnectWallet(ctx context.Context, wallet string) (user.User, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return user.User{}, apperrors.Validation(user.ErrWalletRequired.Error())
	}

	if existing, err := s.store.GetUserByWallet(ctx, wallet); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperrors.Internal("load user", err)
	}

	username := user.DefaultUsername(wallet)
	for attempt := 0; attempt < usernameAttempts; attempt++ {
		created, err := s.store.UpsertUser(ctx, user.User{
			WalletAddress: wallet,
			Username:      username,
			DisplayName:   username,
		})
		if err == nil {
			if created.Username == username {
				s.log.WithField("user_id", created.ID).Infof("user %s created for wallet", created.Username)
			}
			return created, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return user.User{}, apperrors.Internal("create user", err)
		}
		// the derived username belongs to someone else
		username = user.DefaultUsername(wallet) + "_" + randomSuffix()
	}
	return user.User{}, apperrors.Conflict("could not allocate a username")
}

func randomSuffix() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b)
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	return u, mapNotFound(err, "user", id)
}

// GetByUsername returns a user by username (case-insensitive).
func (s *Service) GetByUsername(ctx context.Context, username string) (user.User, error) {
	username = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	u, err := s.store.GetUserByUsername(ctx, username)
	return u, mapNotFound(err, "user", username)
}

// ProfileUpdate carries the editable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	Username      *string `json:"username,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
	Bio           *string `json:"bio,omitempty"`
	AvatarURL     *string `json:"avatar_url,omitempty"`
	CoverPhotoURL *string `json:"cover_photo_url,omitempty"`
}

// UpdateProfile applies upd to the user's profile.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, mapNotFound(err, "user", id)
	}

	if upd.Username != nil {
		u.Username = strings.ToLower(strings.TrimSpace(*upd.Username))
	}
	if upd.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.Bio != nil {
		u.Bio = strings.TrimSpace(*upd.Bio)
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
	}
	if upd.CoverPhotoURL != nil {
		u.CoverPhotoURL = strings.TrimSpace(*upd.CoverPhotoURL)
	}

	if err := validateProfile(u); err != nil {
		return user.User{}, err
	}

	updated, err := s.store.UpdateUser(ctx, u)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return user.User{}, apperrors.Conflict("username already taken")
	case err != nil:
		return user.User{}, mapNotFound(err, "user", id)
	}
	return updated, nil
}

func validateProfile(u user.User) error {
	if err := u.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}
	if utf8.RuneCountInString(u.DisplayName) > maxDisplayName {
		return apperrors.Validation(fmt.Sprintf("display name must be at most %d characters", maxDisplayName))
	}
	if utf8.RuneCountInString(u.Bio) > maxBio {
		return apperrors.Validation(fmt.Sprintf("bio must be at most %d characters", maxBio))
	}
	for _, raw := range []string{u.AvatarURL, u.CoverPhotoURL} {
		if len(raw) > maxURL {
			return apperrors.Validation("image url too long")
		}
		if raw != "" && !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
			return apperrors.Validation("image urls must be http(s)")
		}
	}
	return nil
}

// Follow makes follower follow followed.
func (s *Service) Follow(ctx context.Context, followerID, followedID string) (follow.Follow, error) {
	f := follow.Follow{FollowerID: followerID, FollowedID: followedID}
	if err := f.Validate(); err != nil {
		return follow.Follow{}, apperrors.Validation(err.Error())
	}
	if _, err := s.store.GetUser(ctx, followedID); err != nil {
		return follow.Follow{}, mapNotFound(err, "user", followedID)
	}

	created, err := s.store.CreateFollow(ctx, f)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return follow.Follow{}, apperrors.Conflict("already following")
	case err != nil:
		return follow.Follow{}, mapNotFound(err, "user", followedID)
	}
	return created, nil
}

// Unfollow removes the edge.
func (s *Service) Unfollow(ctx context.Context, followerID, followedID string) error {
	return mapNotFound(s.store.DeleteFollow(ctx, followerID, followedID), "follow", followedID)
}

func (s *Service) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	if followerID == "" {
		return false, nil
	}
	return s.store.IsFollowing(ctx, followerID, followedID)
}

func (s *Service) Followers(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.store.ListFollowers(ctx, userID)
}

func (s *Service) Following(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.store.ListFollowing(ctx, userID)
}

func mapNotFound(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound(resource, id)
	}
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return apperrors.Internal(resource+" lookup failed", err)
}
