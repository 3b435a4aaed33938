package posts

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/domain/user"
	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/storage/memory"
	apperrors "github.com/nightstudio/paywall/internal/errors"
)

type recordingPublisher struct {
	mu    sync.Mutex
	posts []post.Post
}

func (r *recordingPublisher) PublishPost(p post.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, p)
}

func setup(t *testing.T) (*Service, *memory.Store, user.User, user.User) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	creator, err := store.UpsertUser(ctx, user.User{WalletAddress: "CreatorWallet", Username: "creator"})
	require.NoError(t, err)
	viewer, err := store.UpsertUser(ctx, user.User{WalletAddress: "ViewerWallet", Username: "viewer"})
	require.NoError(t, err)
	return New(store, access.New(store, nil), nil), store, creator, viewer
}

func TestCreate(t *testing.T) {
	svc, _, creator, _ := setup(t)
	pub := &recordingPublisher{}
	svc.WithPublisher(pub)

	p, err := svc.Create(context.Background(), creator.ID, Draft{
		Title:      " Sunset ",
		TeaserText: "golden hour",
		MediaURL:   "https://cdn.example.com/sunset.jpg",
		Price:      "2.50",
		Currency:   "usdc",
		Locked:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunset", p.Title)
	assert.Equal(t, post.USDC, p.Currency)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("2.5")))
	require.Len(t, pub.posts, 1)
	assert.Equal(t, p.ID, pub.posts[0].ID)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, creator, _ := setup(t)
	ctx := context.Background()

	cases := map[string]Draft{
		"locked without price": {Title: "t", Locked: true},
		"bad price":            {Title: "t", Price: "two"},
		"bad currency":         {Title: "t", Price: "1", Currency: "EUR"},
		"no title":             {Price: "1"},
		"long teaser":          {Title: "t", TeaserText: strings.Repeat("x", maxTeaser+1)},
		"media scheme":         {Title: "t", MediaURL: "file:///etc/passwd"},
		"too precise":          {Title: "t", Price: "0.0000001", Currency: "USDC", Locked: true},
	}
	for name, d := range cases {
		_, err := svc.Create(ctx, creator.ID, d)
		assert.ErrorIs(t, err, apperrors.ErrValidation, name)
	}

	_, err := svc.Create(ctx, "", Draft{Title: "t"})
	assert.ErrorIs(t, err, apperrors.ErrIdentityRequired)

	_, err = svc.Create(ctx, "ghost", Draft{Title: "t"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFeedRedactsPerViewer(t *testing.T) {
	svc, store, creator, viewer := setup(t)
	ctx := context.Background()

	free, err := svc.Create(ctx, creator.ID, Draft{Title: "free", MediaURL: "https://cdn/free.jpg"})
	require.NoError(t, err)
	locked, err := svc.Create(ctx, creator.ID, Draft{Title: "locked", MediaURL: "https://cdn/locked.jpg", Price: "1", Locked: true})
	require.NoError(t, err)

	feed, err := svc.Feed(ctx, FeedQuery{}, viewer.ID)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	byID := map[string]access.PostView{}
	for _, v := range feed {
		byID[v.ID] = v
	}
	assert.Equal(t, "https://cdn/free.jpg", byID[free.ID].MediaURL)
	assert.Empty(t, byID[locked.ID].MediaURL)
	assert.True(t, byID[locked.ID].Access.UnlockRequired)

	_, err = store.CreatePurchase(ctx, purchase.Purchase{UserID: viewer.ID, PostID: locked.ID, TxSignature: "sig", PaidAmount: decimal.NewFromInt(1), Currency: post.USDC})
	require.NoError(t, err)

	v, err := svc.Get(ctx, locked.ID, viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/locked.jpg", v.MediaURL)

	anon, err := svc.Get(ctx, locked.ID, "")
	require.NoError(t, err)
	assert.Empty(t, anon.MediaURL)
	assert.Equal(t, access.ReasonNoIdentity, anon.Access.Reason)

	own, err := svc.Feed(ctx, FeedQuery{CreatorID: viewer.ID}, viewer.ID)
	require.NoError(t, err)
	assert.Empty(t, own)

	_, err = svc.Get(ctx, "missing", viewer.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestToggleLike(t *testing.T) {
	svc, _, creator, viewer := setup(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, creator.ID, Draft{Title: "t"})
	require.NoError(t, err)

	state, err := svc.ToggleLike(ctx, viewer.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: true, LikesCount: 1}, state)

	state, err = svc.ToggleLike(ctx, viewer.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: false, LikesCount: 0}, state)

	_, err = svc.ToggleLike(ctx, viewer.ID, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.ToggleLike(ctx, "", p.ID)
	assert.ErrorIs(t, err, apperrors.ErrIdentityRequired)
}
