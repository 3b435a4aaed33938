package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nightstudio/paywall/internal/app/storage/memory"
	apperrors "github.com/nightstudio/paywall/internal/errors"
)

func strPtr(s string) *string { return &s }

func TestConnectWallet(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	u, err := svc.ConnectWallet(ctx, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if u.Username != "user_9wzdxwbb" {
		t.Fatalf("unexpected default username %q", u.Username)
	}

	again, err := svc.ConnectWallet(ctx, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("reconnect created a second user")
	}

	if _, err := svc.ConnectWallet(ctx, "  "); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConnectWallet_DefaultUsernameClash(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	// same first 8 characters, different wallets
	first, err := svc.ConnectWallet(ctx, "ABCDEFGH1111")
	if err != nil {
		t.Fatalf("connect first: %v", err)
	}
	second, err := svc.ConnectWallet(ctx, "ABCDEFGH2222")
	if err != nil {
		t.Fatalf("connect second: %v", err)
	}
	if first.Username == second.Username {
		t.Fatalf("usernames collide: %q", first.Username)
	}
	if !strings.HasPrefix(second.Username, "user_abcdefgh_") {
		t.Fatalf("unexpected fallback username %q", second.Username)
	}
}

func TestUpdateProfile(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	alice, _ := svc.ConnectWallet(ctx, "AliceWallet111")
	bob, _ := svc.ConnectWallet(ctx, "BobWallet2222")

	updated, err := svc.UpdateProfile(ctx, alice.ID, ProfileUpdate{
		Username:    strPtr("  Alice "),
		DisplayName: strPtr("Alice"),
		Bio:         strPtr("night owl"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Username != "alice" || updated.Bio != "night owl" || updated.WalletAddress != "AliceWallet111" {
		t.Fatalf("unexpected profile %+v", updated)
	}

	found, err := svc.GetByUsername(ctx, "@Alice")
	if err != nil || found.ID != alice.ID {
		t.Fatalf("lookup by username: %+v %v", found, err)
	}

	if _, err := svc.UpdateProfile(ctx, bob.ID, ProfileUpdate{Username: strPtr("alice")}); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, bob.ID, ProfileUpdate{Username: strPtr("x")}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, bob.ID, ProfileUpdate{Bio: strPtr(strings.Repeat("b", maxBio+1))}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected bio length error, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, bob.ID, ProfileUpdate{AvatarURL: strPtr("javascript:alert(1)")}); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected url error, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "missing", ProfileUpdate{}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFollowGraph(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	alice, _ := svc.ConnectWallet(ctx, "AliceWallet111")
	bob, _ := svc.ConnectWallet(ctx, "BobWallet2222")

	if _, err := svc.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, err := svc.Follow(ctx, alice.ID, bob.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on second follow, got %v", err)
	}
	if _, err := svc.Follow(ctx, alice.ID, alice.ID); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected self-follow validation error, got %v", err)
	}
	if _, err := svc.Follow(ctx, alice.ID, "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	ok, err := svc.IsFollowing(ctx, alice.ID, bob.ID)
	if err != nil || !ok {
		t.Fatalf("is following: %v %v", ok, err)
	}
	bobNow, _ := svc.Get(ctx, bob.ID)
	if bobNow.FollowersCount != 1 {
		t.Fatalf("followers count = %d", bobNow.FollowersCount)
	}
	followers, _ := svc.Followers(ctx, bob.ID)
	if len(followers) != 1 || followers[0].FollowerID != alice.ID {
		t.Fatalf("unexpected followers %+v", followers)
	}

	if err := svc.Unfollow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if err := svc.Unfollow(ctx, alice.ID, bob.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found on second unfollow, got %v", err)
	}
	anon, _ := svc.IsFollowing(ctx, "", bob.ID)
	if anon {
		t.Fatalf("anonymous viewer cannot follow")
	}
}
