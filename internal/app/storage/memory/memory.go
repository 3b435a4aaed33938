package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/like"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/storage"
)

type pairKey struct {
	a, b string
}

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users           map[string]user.User
	usersByWallet   map[string]string
	usersByUsername map[string]string
	posts           map[string]post.Post
	purchases       map[pairKey]purchase.Purchase
	follows         map[pairKey]follow.Follow
	likes           map[pairKey]like.Like
}

var _ storage.Gateway = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		users:           make(map[string]user.User),
		usersByWallet:   make(map[string]string),
		usersByUsername: make(map[string]string),
		posts:           make(map[string]post.Post),
		purchases:       make(map[pairKey]purchase.Purchase),
		follows:         make(map[pairKey]follow.Follow),
		likes:           make(map[pairKey]like.Like),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByWallet(_ context.Context, wallet string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByWallet[wallet]
	if !ok {
		return user.User{}, fmt.Errorf("wallet %s: %w", wallet, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[username]
	if !ok {
		return user.User{}, fmt.Errorf("username %s: %w", username, storage.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *Store) UpsertUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.usersByWallet[u.WalletAddress]; ok {
		return s.users[id], nil
	}
	if _, taken := s.usersByUsername[u.Username]; taken {
		return user.User{}, fmt.Errorf("username %s: %w", u.Username, storage.ErrConflict)
	}

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.FollowersCount = 0
	u.FollowingCount = 0

	s.users[u.ID] = u
	s.usersByWallet[u.WalletAddress] = u.ID
	s.usersByUsername[u.Username] = u.ID
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	if owner, taken := s.usersByUsername[u.Username]; taken && owner != u.ID {
		return user.User{}, fmt.Errorf("username %s: %w", u.Username, storage.ErrConflict)
	}

	// identity and counters are not editable through profile updates
	u.WalletAddress = original.WalletAddress
	u.FollowersCount = original.FollowersCount
	u.FollowingCount = original.FollowingCount
	u.Verified = original.Verified
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	delete(s.usersByUsername, original.Username)
	s.usersByUsername[u.Username] = u.ID
	s.users[u.ID] = u
	return u, nil
}

// PostStore implementation ----------------------------------------------------

func (s *Store) GetPost(_ context.Context, id string) (post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return post.Post{}, fmt.Errorf("post %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListPosts(_ context.Context, filter storage.PostFilter) ([]post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]post.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter.CreatorID != "" && p.CreatorID != filter.CreatorID {
			continue
		}
		if filter.Locked != nil && p.Locked != *filter.Locked {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			if filter.Order == storage.OldestFirst {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if filter.Order == storage.OldestFirst {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []post.Post{}, nil
		}
		result = result[filter.Offset:]
	}
	if limit := storage.NormalizeLimit(filter.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreatePost(_ context.Context, p post.Post) (post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.CreatorID]; !ok {
		return post.Post{}, fmt.Errorf("creator %s: %w", p.CreatorID, storage.ErrNotFound)
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.posts[p.ID]; exists {
		return post.Post{}, fmt.Errorf("post %s: %w", p.ID, storage.ErrConflict)
	}
	p.CreatedAt = time.Now().UTC()
	p.LikesCount = 0

	s.posts[p.ID] = p
	return p, nil
}

// PurchaseStore implementation ------------------------------------------------

func (s *Store) FindPurchase(_ context.Context, userID, postID string) (purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[pairKey{userID, postID}]
	if !ok {
		return purchase.Purchase{}, fmt.Errorf("purchase %s/%s: %w", userID, postID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) CreatePurchase(_ context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{p.UserID, p.PostID}
	if _, exists := s.purchases[key]; exists {
		return purchase.Purchase{}, fmt.Errorf("purchase %s/%s: %w", p.UserID, p.PostID, storage.ErrConflict)
	}
	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.purchases[key] = p
	return p, nil
}

func (s *Store) ListPurchasesByUser(_ context.Context, userID string) ([]purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []purchase.Purchase
	for key, p := range s.purchases {
		if key.a == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// FollowStore implementation --------------------------------------------------

func (s *Store) CreateFollow(_ context.Context, f follow.Follow) (follow.Follow, error) {
	if err := f.Validate(); err != nil {
		return follow.Follow{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.users[f.FollowerID]
	if !ok {
		return follow.Follow{}, fmt.Errorf("user %s: %w", f.FollowerID, storage.ErrNotFound)
	}
	followed, ok := s.users[f.FollowedID]
	if !ok {
		return follow.Follow{}, fmt.Errorf("user %s: %w", f.FollowedID, storage.ErrNotFound)
	}

	key := pairKey{f.FollowerID, f.FollowedID}
	if _, exists := s.follows[key]; exists {
		return follow.Follow{}, fmt.Errorf("follow %s->%s: %w", f.FollowerID, f.FollowedID, storage.ErrConflict)
	}
	f.CreatedAt = time.Now().UTC()
	s.follows[key] = f

	follower.FollowingCount++
	followed.FollowersCount++
	s.users[follower.ID] = follower
	s.users[followed.ID] = followed
	return f, nil
}

func (s *Store) DeleteFollow(_ context.Context, followerID, followedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{followerID, followedID}
	if _, exists := s.follows[key]; !exists {
		return fmt.Errorf("follow %s->%s: %w", followerID, followedID, storage.ErrNotFound)
	}
	delete(s.follows, key)

	if u, ok := s.users[followerID]; ok && u.FollowingCount > 0 {
		u.FollowingCount--
		s.users[followerID] = u
	}
	if u, ok := s.users[followedID]; ok && u.FollowersCount > 0 {
		u.FollowersCount--
		s.users[followedID] = u
	}
	return nil
}

func (s *Store) IsFollowing(_ context.Context, followerID, followedID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.follows[pairKey{followerID, followedID}]
	return ok, nil
}

func (s *Store) ListFollowers(_ context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(func(f follow.Follow) bool { return f.FollowedID == userID }), nil
}

func (s *Store) ListFollowing(_ context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(func(f follow.Follow) bool { return f.FollowerID == userID }), nil
}

func (s *Store) listFollows(match func(follow.Follow) bool) []follow.Follow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []follow.Follow
	for _, f := range s.follows {
		if match(f) {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// LikeStore implementation ----------------------------------------------------

func (s *Store) ToggleLike(_ context.Context, userID, postID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return false, 0, fmt.Errorf("post %s: %w", postID, storage.ErrNotFound)
	}

	key := pairKey{userID, postID}
	liked := false
	if _, exists := s.likes[key]; exists {
		delete(s.likes, key)
		if p.LikesCount > 0 {
			p.LikesCount--
		}
	} else {
		s.likes[key] = like.Like{UserID: userID, PostID: postID, CreatedAt: time.Now().UTC()}
		p.LikesCount++
		liked = true
	}
	s.posts[postID] = p
	return liked, p.LikesCount, nil
}
