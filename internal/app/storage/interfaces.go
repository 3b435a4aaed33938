package storage

import (
	"context"
	"errors"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record conflicts with an existing record")
)

// UserStore persists user profiles.
type UserStore interface {
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	// UpsertUser inserts by wallet address or returns the existing record
	// untouched when the wallet is already known.
	UpsertUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
}

// PostOrder selects feed ordering.
type PostOrder int

const (
	NewestFirst PostOrder = iota
	OldestFirst
)

// PostFilter narrows ListPosts. Zero values mean "any".
type PostFilter struct {
	CreatorID string
	Locked    *bool
	Order     PostOrder
	Limit     int
	Offset    int
}

// PostStore persists posts.
type PostStore interface {
	GetPost(ctx context.Context, id string) (post.Post, error)
	ListPosts(ctx context.Context, filter PostFilter) ([]post.Post, error)
	CreatePost(ctx context.Context, p post.Post) (post.Post, error)
}

// PurchaseStore persists purchases. CreatePurchase must return ErrConflict
// when a purchase for the same (user, post) pair already exists.
type PurchaseStore interface {
	FindPurchase(ctx context.Context, userID, postID string) (purchase.Purchase, error)
	CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]purchase.Purchase, error)
}

// FollowStore persists the follow graph and keeps user counters in step.
type FollowStore interface {
	CreateFollow(ctx context.Context, f follow.Follow) (follow.Follow, error)
	DeleteFollow(ctx context.Context, followerID, followedID string) error
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
	ListFollowers(ctx context.Context, userID string) ([]follow.Follow, error)
	ListFollowing(ctx context.Context, userID string) ([]follow.Follow, error)
}

// LikeStore persists post likes.
type LikeStore interface {
	// ToggleLike flips the like state and returns the new state and count.
	ToggleLike(ctx context.Context, userID, postID string) (liked bool, count int, err error)
}

// Gateway bundles every store the application needs.
type Gateway interface {
	UserStore
	PostStore
	PurchaseStore
	FollowStore
	LikeStore
}

// DefaultLimit caps list queries that do not specify a limit.
const DefaultLimit = 50

// NormalizeLimit applies DefaultLimit and an upper bound.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}
