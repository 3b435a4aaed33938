// Package supabase implements the storage interfaces against a Supabase
// project through PostgREST. Follow and like mutations go through the RPC
// functions installed by the postgres migrations so counters stay in step.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/pkg/logger"
	"github.com/nightstudio/paywall/supabase/client"
)

const (
	tableUsers     = "users"
	tablePosts     = "posts"
	tablePurchases = "purchases"
	tableFollows   = "follows"

	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNoSingleRow         = "PGRST116"
)

// Store implements storage.Gateway over the Supabase REST API.
type Store struct {
	client *client.Client
	log    *logger.Logger
}

var _ storage.Gateway = (*Store)(nil)

// New creates a store backed by c.
func New(c *client.Client, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("supabase-store")
	}
	return &Store{client: c, log: log}
}

// mapError folds transport and PostgREST errors into storage sentinels.
func mapError(resp *client.Response, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	apiErr := resp.Err()
	if apiErr == nil {
		return nil
	}
	var e *client.APIError
	if errors.As(apiErr, &e) {
		switch {
		case e.Code == codeUniqueViolation, e.StatusCode == http.StatusConflict && e.Code == "":
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case e.Code == codeForeignKeyViolation:
			return fmt.Errorf("%s: referenced record missing: %w", what, storage.ErrNotFound)
		case e.Code == codeNoSingleRow, e.StatusCode == http.StatusNotAcceptable:
			return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, apiErr)
}

// one decodes a single row from a representation response that PostgREST
// returns as an array.
func one[T any](resp *client.Response, what string) (T, error) {
	var rows []T
	var zero T
	if err := resp.JSON(&rows); err != nil {
		return zero, fmt.Errorf("%s: decode: %w", what, err)
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return rows[0], nil
}

// Users -----------------------------------------------------------------------

type userRow struct {
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

func (r userRow) toDomain() user.User { return user.User(r) }

func (s *Store) getUserBy(ctx context.Context, column, value string) (user.User, error) {
	resp, err := s.client.From(tableUsers).Select("*").Eq(column, value).Single().Execute(ctx)
	if err := mapError(resp, err, "user "+value); err != nil {
		return user.User{}, err
	}
	var row userRow
	if err := resp.JSON(&row); err != nil {
		return user.User{}, fmt.Errorf("decode user: %w", err)
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
	if u.WalletAddress == "" {
		return user.User{}, user.ErrWalletRequired
	}
	now := time.Now().UTC()
	row := userRow(u)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt, row.UpdatedAt = now, now
	row.FollowersCount, row.FollowingCount, row.Verified = 0, 0, false

	resp, err := s.client.From(tableUsers).IgnoreDuplicates("wallet_address").ExecuteInsert(ctx, row)
	if err := mapError(resp, err, "upsert user "+u.WalletAddress); err != nil {
		return user.User{}, err
	}
	return s.GetUserByWallet(ctx, u.WalletAddress)
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	patch := map[string]any{
		"username":        u.Username,
		"display_name":    u.DisplayName,
		"bio":             u.Bio,
		"avatar_url":      u.AvatarURL,
		"cover_photo_url": u.CoverPhotoURL,
		"updated_at":      time.Now().UTC(),
	}
	resp, err := s.client.From(tableUsers).Eq("id", u.ID).ExecuteUpdate(ctx, patch)
	if err := mapError(resp, err, "update user "+u.ID); err != nil {
		return user.User{}, err
	}
	row, err := one[userRow](resp, "update user "+u.ID)
	if err != nil {
		return user.User{}, err
	}
	return row.toDomain(), nil
}

// Posts -----------------------------------------------------------------------

type postRow struct {
	ID         string          `json:"id"`
	CreatorID  string          `json:"creator_id"`
	Title      string          `json:"title"`
	TeaserText string          `json:"teaser_text"`
	MediaURL   string          `json:"media_url"`
	Price      decimal.Decimal `json:"price"`
	Currency   post.Currency   `json:"currency"`
	Locked     bool            `json:"locked"`
	LikesCount int             `json:"likes_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (r postRow) toDomain() post.Post { return post.Post(r) }

func (s *Store) GetPost(ctx context.Context, id string) (post.Post, error) {
	resp, err := s.client.From(tablePosts).Select("*").Eq("id", id).Single().Execute(ctx)
	if err := mapError(resp, err, "post "+id); err != nil {
		return post.Post{}, err
	}
	var row postRow
	if err := resp.JSON(&row); err != nil {
		return post.Post{}, fmt.Errorf("decode post: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPosts(ctx context.Context, filter storage.PostFilter) ([]post.Post, error) {
	q := s.client.From(tablePosts).Select("*")
	if filter.CreatorID != "" {
		q = q.Eq("creator_id", filter.CreatorID)
	}
	if filter.Locked != nil {
		q = q.Is("locked", *filter.Locked)
	}
	asc := filter.Order == storage.OldestFirst
	q = q.Order("created_at", asc).Order("id", asc).
		Limit(storage.NormalizeLimit(filter.Limit)).
		Offset(filter.Offset)

	resp, err := q.Execute(ctx)
	if err := mapError(resp, err, "list posts"); err != nil {
		return nil, err
	}
	var rows []postRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	out := make([]post.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CreatePost(ctx context.Context, p post.Post) (post.Post, error) {
	if err := p.Validate(); err != nil {
		return post.Post{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	p.LikesCount = 0

	resp, err := s.client.From(tablePosts).ExecuteInsert(ctx, postRow(p))
	if err := mapError(resp, err, "create post"); err != nil {
		return post.Post{}, err
	}
	row, err := one[postRow](resp, "create post")
	if err != nil {
		return post.Post{}, err
	}
	return row.toDomain(), nil
}

// Purchases -------------------------------------------------------------------

type purchaseRow struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	PostID      string          `json:"post_id"`
	TxSignature string          `json:"tx_signature"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Currency    post.Currency   `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (r purchaseRow) toDomain() purchase.Purchase { return purchase.Purchase(r) }

func (s *Store) FindPurchase(ctx context.Context, userID, postID string) (purchase.Purchase, error) {
	resp, err := s.client.From(tablePurchases).Select("*").
		Eq("user_id", userID).Eq("post_id", postID).Limit(1).Execute(ctx)
	if err := mapError(resp, err, "purchase "+userID+"/"+postID); err != nil {
		return purchase.Purchase{}, err
	}
	row, err := one[purchaseRow](resp, "purchase "+userID+"/"+postID)
	if err != nil {
		return purchase.Purchase{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	resp, err := s.client.From(tablePurchases).ExecuteInsert(ctx, purchaseRow(p))
	if err := mapError(resp, err, "create purchase "+p.UserID+"/"+p.PostID); err != nil {
		return purchase.Purchase{}, err
	}
	row, err := one[purchaseRow](resp, "create purchase")
	if err != nil {
		return purchase.Purchase{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID string) ([]purchase.Purchase, error) {
	resp, err := s.client.From(tablePurchases).Select("*").
		Eq("user_id", userID).Order("created_at", false).Execute(ctx)
	if err := mapError(resp, err, "list purchases"); err != nil {
		return nil, err
	}
	var rows []purchaseRow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode purchases: %w", err)
	}
	out := make([]purchase.Purchase, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Follows and likes -----------------------------------------------------------

func (s *Store) CreateFollow(ctx context.Context, f follow.Follow) (follow.Follow, error) {
	if err := f.Validate(); err != nil {
		return follow.Follow{}, err
	}
	resp, err := s.client.RPC(ctx, "follow_user", map[string]string{
		"p_follower": f.FollowerID,
		"p_followed": f.FollowedID,
	})
	if err := mapError(resp, err, "follow "+f.FollowerID+"->"+f.FollowedID); err != nil {
		return follow.Follow{}, err
	}
	if err := resp.JSON(&f.CreatedAt); err != nil {
		s.log.WithError(err).Debug("follow_user returned no timestamp")
		f.CreatedAt = time.Now().UTC()
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followedID string) error {
	resp, err := s.client.RPC(ctx, "unfollow_user", map[string]string{
		"p_follower": followerID,
		"p_followed": followedID,
	})
	what := "follow " + followerID + "->" + followedID
	if err := mapError(resp, err, what); err != nil {
		return err
	}
	var removed bool
	if err := resp.JSON(&removed); err != nil {
		return fmt.Errorf("%s: decode: %w", what, err)
	}
	if !removed {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	resp, err := s.client.From(tableFollows).Select("follower_id").
		Eq("follower_id", followerID).Eq("followed_id", followedID).Limit(1).Execute(ctx)
	if err := mapError(resp, err, "is following"); err != nil {
		return false, err
	}
	var rows []struct{}
	if err := resp.JSON(&rows); err != nil {
		return false, fmt.Errorf("decode follows: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *Store) ListFollowers(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(ctx, "followed_id", userID)
}

func (s *Store) ListFollowing(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(ctx, "follower_id", userID)
}

func (s *Store) listFollows(ctx context.Context, column, userID string) ([]follow.Follow, error) {
	resp, err := s.client.From(tableFollows).Select("*").
		Eq(column, userID).Order("created_at", false).Execute(ctx)
	if err := mapError(resp, err, "list follows"); err != nil {
		return nil, err
	}
	var rows []follow.Follow
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode follows: %w", err)
	}
	return rows, nil
}

func (s *Store) ToggleLike(ctx context.Context, userID, postID string) (bool, int, error) {
	resp, err := s.client.RPC(ctx, "toggle_post_like", map[string]string{
		"p_user": userID,
		"p_post": postID,
	})
	if err := mapError(resp, err, "toggle like "+postID); err != nil {
		return false, 0, err
	}
	row, err := one[struct {
		Liked      bool `json:"liked"`
		LikesCount int  `json:"likes_count"`
	}](resp, "post "+postID)
	if err != nil {
		return false, 0, err
	}
	return row.Liked, row.LikesCount, nil
}
