package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/storage"
)

func followOf(a, b string) follow.Follow {
	return follow.Follow{FollowerID: a, FollowedID: b}
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "paywall.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	alice, err := store.UpsertUser(ctx, user.User{WalletAddress: "wallet-a", Username: "alice"})
	require.NoError(t, err)
	again, err := store.UpsertUser(ctx, user.User{WalletAddress: "wallet-a", Username: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)
	assert.Equal(t, "alice", again.Username)

	_, err = store.UpsertUser(ctx, user.User{WalletAddress: "wallet-b", Username: "alice"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	created, err := store.CreatePost(ctx, post.Post{
		CreatorID: alice.ID, Title: "sunset", TeaserText: "golden hour", MediaURL: "https://cdn/x.jpg",
		Price: decimal.RequireFromString("5.25"), Currency: post.USDC, Locked: true,
	})
	require.NoError(t, err)

	got, err := store.GetPost(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("5.25")), "price %s", got.Price)
	assert.Equal(t, post.USDC, got.Currency)
	assert.True(t, got.Locked)

	_, err = store.CreatePost(ctx, post.Post{CreatorID: "ghost", Title: "x", Currency: post.SOL})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLitePurchaseUniqueUnderConcurrency(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	buyer, err := store.UpsertUser(ctx, user.User{WalletAddress: "wallet-b", Username: "bob"})
	require.NoError(t, err)
	creator, err := store.UpsertUser(ctx, user.User{WalletAddress: "wallet-c", Username: "carol"})
	require.NoError(t, err)
	p, err := store.CreatePost(ctx, post.Post{CreatorID: creator.ID, Title: "t", Price: decimal.NewFromInt(1), Currency: post.SOL, Locked: true})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreatePurchase(ctx, purchase.Purchase{
				UserID: buyer.ID, PostID: p.ID, TxSignature: "tx", PaidAmount: p.Price, Currency: p.Currency,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)

	found, err := store.FindPurchase(ctx, buyer.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, found.PaidAmount.Equal(decimal.NewFromInt(1)))

	list, err := store.ListPurchasesByUser(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteFollowsAndLikes(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	a, err := store.UpsertUser(ctx, user.User{WalletAddress: "wa", Username: "alice"})
	require.NoError(t, err)
	b, err := store.UpsertUser(ctx, user.User{WalletAddress: "wb", Username: "bob"})
	require.NoError(t, err)

	_, err = store.UpdateUser(ctx, user.User{ID: "missing", Username: "ghost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.CreateFollow(ctx, followOf(a.ID, a.ID))
	assert.ErrorIs(t, err, follow.ErrSelfFollow)

	_, err = store.CreateFollow(ctx, followOf(a.ID, b.ID))
	require.NoError(t, err)
	_, err = store.CreateFollow(ctx, followOf(a.ID, b.ID))
	assert.ErrorIs(t, err, storage.ErrConflict)

	a, _ = store.GetUser(ctx, a.ID)
	b, _ = store.GetUser(ctx, b.ID)
	assert.Equal(t, 1, a.FollowingCount)
	assert.Equal(t, 1, b.FollowersCount)

	followers, err := store.ListFollowers(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, followers, 1)

	require.NoError(t, store.DeleteFollow(ctx, a.ID, b.ID))
	assert.ErrorIs(t, store.DeleteFollow(ctx, a.ID, b.ID), storage.ErrNotFound)
	b, _ = store.GetUser(ctx, b.ID)
	assert.Equal(t, 0, b.FollowersCount)

	p, err := store.CreatePost(ctx, post.Post{CreatorID: b.ID, Title: "free", Currency: post.USDC})
	require.NoError(t, err)
	liked, count, err := store.ToggleLike(ctx, a.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)
	liked, count, err = store.ToggleLike(ctx, a.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, count)

	_, _, err = store.ToggleLike(ctx, a.ID, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteListPostsOrdering(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	a, err := store.UpsertUser(ctx, user.User{WalletAddress: "wa", Username: "alice"})
	require.NoError(t, err)
	for _, title := range []string{"one", "two", "three"} {
		_, err := store.CreatePost(ctx, post.Post{CreatorID: a.ID, Title: title, Currency: post.USDC})
		require.NoError(t, err)
	}

	newest, err := store.ListPosts(ctx, storage.PostFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.False(t, newest[0].CreatedAt.Before(newest[1].CreatedAt))

	unlocked := false
	all, err := store.ListPosts(ctx, storage.PostFilter{CreatorID: a.ID, Locked: &unlocked, Order: storage.OldestFirst})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
