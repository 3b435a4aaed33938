package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/storage"
)

func seedUser(t *testing.T, s *Store, wallet, username string) user.User {
	t.Helper()
	u, err := s.UpsertUser(context.Background(), user.User{WalletAddress: wallet, Username: username})
	if err != nil {
		t.Fatalf("upsert %s: %v", username, err)
	}
	return u
}

func TestUpsertUserIsIdempotentByWallet(t *testing.T) {
	s := New()
	first := seedUser(t, s, "wallet-a", "alice")

	again, err := s.UpsertUser(context.Background(), user.User{WalletAddress: "wallet-a", Username: "other"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.ID != first.ID || again.Username != "alice" {
		t.Fatalf("expected existing user, got %+v", again)
	}

	if _, err := s.UpsertUser(context.Background(), user.User{WalletAddress: "wallet-b", Username: "alice"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	if _, err := s.GetUserByWallet(context.Background(), "WALLET-A"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("wallet lookup must be case-sensitive, got %v", err)
	}
}

func TestUpdateUserKeepsIdentity(t *testing.T) {
	s := New()
	u := seedUser(t, s, "wallet-a", "alice")

	u.WalletAddress = "hijack"
	u.FollowersCount = 1000
	u.Username = "alice_b"
	u.Bio = "hello"
	updated, err := s.UpdateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.WalletAddress != "wallet-a" || updated.FollowersCount != 0 {
		t.Fatalf("identity fields changed: %+v", updated)
	}
	if _, err := s.GetUserByUsername(context.Background(), "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("old username should be released, got %v", err)
	}
	if got, _ := s.GetUserByUsername(context.Background(), "alice_b"); got.Bio != "hello" {
		t.Fatalf("new username lookup failed: %+v", got)
	}
}

func TestCreatePurchaseEnforcesPairUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	const workers = 16
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
			_, err := s.CreatePurchase(ctx, purchase.Purchase{UserID: "u1", PostID: "p1", TxSignature: "tx", PaidAmount: decimal.NewFromInt(5)})
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

	if created != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 create and %d conflicts, got %d/%d", workers-1, created, conflicts)
	}
	list, _ := s.ListPurchasesByUser(ctx, "u1")
	if len(list) != 1 {
		t.Fatalf("expected one purchase, got %d", len(list))
	}
}

func TestFollowCounters(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedUser(t, s, "wa", "alice")
	b := seedUser(t, s, "wb", "bob")

	if _, err := s.CreateFollow(ctx, follow.Follow{FollowerID: a.ID, FollowedID: a.ID}); !errors.Is(err, follow.ErrSelfFollow) {
		t.Fatalf("expected self-follow rejection, got %v", err)
	}
	if _, err := s.CreateFollow(ctx, follow.Follow{FollowerID: a.ID, FollowedID: b.ID}); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, err := s.CreateFollow(ctx, follow.Follow{FollowerID: a.ID, FollowedID: b.ID}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected duplicate follow conflict, got %v", err)
	}

	a, _ = s.GetUser(ctx, a.ID)
	b, _ = s.GetUser(ctx, b.ID)
	if a.FollowingCount != 1 || b.FollowersCount != 1 {
		t.Fatalf("unexpected counters: following=%d followers=%d", a.FollowingCount, b.FollowersCount)
	}
	if ok, _ := s.IsFollowing(ctx, a.ID, b.ID); !ok {
		t.Fatalf("expected follow edge")
	}

	if err := s.DeleteFollow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if err := s.DeleteFollow(ctx, a.ID, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second unfollow, got %v", err)
	}
	b, _ = s.GetUser(ctx, b.ID)
	if b.FollowersCount != 0 {
		t.Fatalf("followers count not decremented: %d", b.FollowersCount)
	}
}

func TestListPostsFiltersAndPages(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedUser(t, s, "wa", "alice")
	b := seedUser(t, s, "wb", "bob")

	for i := 0; i < 3; i++ {
		if _, err := s.CreatePost(ctx, post.Post{CreatorID: a.ID, Title: "a", Currency: post.USDC}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	locked, err := s.CreatePost(ctx, post.Post{CreatorID: b.ID, Title: "b", Currency: post.SOL, Locked: true, Price: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("create locked: %v", err)
	}

	byCreator, _ := s.ListPosts(ctx, storage.PostFilter{CreatorID: a.ID})
	if len(byCreator) != 3 {
		t.Fatalf("expected 3 posts by alice, got %d", len(byCreator))
	}
	isLocked := true
	onlyLocked, _ := s.ListPosts(ctx, storage.PostFilter{Locked: &isLocked})
	if len(onlyLocked) != 1 || onlyLocked[0].ID != locked.ID {
		t.Fatalf("unexpected locked filter result: %+v", onlyLocked)
	}
	page, _ := s.ListPosts(ctx, storage.PostFilter{Limit: 2, Offset: 3})
	if len(page) != 1 {
		t.Fatalf("expected single item on last page, got %d", len(page))
	}
	if _, err := s.CreatePost(ctx, post.Post{CreatorID: "ghost", Title: "x", Currency: post.USDC}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected missing creator error, got %v", err)
	}
}

func TestToggleLike(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedUser(t, s, "wa", "alice")
	p, _ := s.CreatePost(ctx, post.Post{CreatorID: a.ID, Title: "a", Currency: post.USDC})

	liked, count, err := s.ToggleLike(ctx, a.ID, p.ID)
	if err != nil || !liked || count != 1 {
		t.Fatalf("first toggle: liked=%v count=%d err=%v", liked, count, err)
	}
	liked, count, err = s.ToggleLike(ctx, a.ID, p.ID)
	if err != nil || liked || count != 0 {
		t.Fatalf("second toggle: liked=%v count=%d err=%v", liked, count, err)
	}
	if _, _, err := s.ToggleLike(ctx, a.ID, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
