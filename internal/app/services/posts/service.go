// Package posts creates posts and serves the per-viewer feed.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/services/access"
	"github.com/nightstudio/paywall/internal/app/storage"
	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/pkg/logger"
)

const (
	maxTitle  = 200
	maxTeaser = 500
	maxURL    = 2048
)

// Store is the persistence the service needs.
type Store interface {
	storage.PostStore
	storage.LikeStore
}

// Publisher receives newly created posts.
type Publisher interface {
	PublishPost(p post.Post)
}

// Service manages posts.
type Service struct {
	store  Store
	access *access.Engine
	pub    Publisher
	log    *logger.Logger
}

// New constructs a post service. engine decides what each viewer sees.
func New(store Store, engine *access.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("posts")
	}
	return &Service{store: store, access: engine, log: log}
}

// WithPublisher sets where created posts are announced.
func (s *Service) WithPublisher(pub Publisher) *Service {
	s.pub = pub
	return s
}

// Draft is the client-supplied part of a new post.
type Draft struct {
	Title      string `json:"title"`
	TeaserText string `json:"teaser_text"`
	MediaURL   string `json:"media_url"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	Locked     bool   `json:"locked"`
}

func (d Draft) toPost(creatorID string) (post.Post, error) {
	p := post.Post{
		CreatorID:  creatorID,
		Title:      strings.TrimSpace(d.Title),
		TeaserText: strings.TrimSpace(d.TeaserText),
		MediaURL:   strings.TrimSpace(d.MediaURL),
		Locked:     d.Locked,
		Price:      decimal.Zero,
		Currency:   post.USDC,
	}
	if raw := strings.TrimSpace(d.Price); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return post.Post{}, apperrors.Validation(fmt.Sprintf("invalid price %q", d.Price))
		}
		p.Price = price
	}
	if strings.TrimSpace(d.Currency) != "" {
		c, err := post.ParseCurrency(d.Currency)
		if err != nil {
			return post.Post{}, apperrors.Validation(err.Error())
		}
		p.Currency = c
	}

	if err := p.Validate(); err != nil {
		return post.Post{}, apperrors.Validation(err.Error())
	}
	if utf8.RuneCountInString(p.Title) > maxTitle {
		return post.Post{}, apperrors.Validation(fmt.Sprintf("title must be at most %d characters", maxTitle))
	}
	if utf8.RuneCountInString(p.TeaserText) > maxTeaser {
		return post.Post{}, apperrors.Validation(fmt.Sprintf("teaser must be at most %d characters", maxTeaser))
	}
	if len(p.MediaURL) > maxURL {
		return post.Post{}, apperrors.Validation("media url too long")
	}
	if p.MediaURL != "" && !strings.HasPrefix(p.MediaURL, "https://") && !strings.HasPrefix(p.MediaURL, "http://") {
		return post.Post{}, apperrors.Validation("media url must be http(s)")
	}
	return p, nil
}

// Create validates and stores a post for creatorID.
func (s *Service) Create(ctx context.Context, creatorID string, d Draft) (post.Post, error) {
	if creatorID == "" {
		return post.Post{}, apperrors.IdentityRequired()
	}
	p, err := d.toPost(creatorID)
	if err != nil {
		return post.Post{}, err
	}

	created, err := s.store.CreatePost(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return post.Post{}, apperrors.NotFound("user", creatorID)
		}
		return post.Post{}, apperrors.Internal("create post", err)
	}

	s.log.WithField("post_id", created.ID).
		WithField("creator_id", created.CreatorID).
		Infof("post created (locked=%v)", created.Locked)
	if s.pub != nil {
		s.pub.PublishPost(created)
	}
	return created, nil
}

// Load returns the stored post without redaction.
func (s *Service) Load(ctx context.Context, id string) (post.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return post.Post{}, apperrors.NotFound("post", id)
		}
		return post.Post{}, apperrors.Internal("load post", err)
	}
	return p, nil
}

// Get returns one post as viewerID may see it.
func (s *Service) Get(ctx context.Context, id, viewerID string) (access.PostView, error) {
	p, err := s.Load(ctx, id)
	if err != nil {
		return access.PostView{}, err
	}
	v, err := s.access.View(ctx, p, viewerID)
	if err != nil {
		return access.PostView{}, apperrors.Internal("resolve access", err)
	}
	return v, nil
}

// FeedQuery selects a page of the feed.
type FeedQuery struct {
	CreatorID string
	Limit     int
	Offset    int
}

// Feed lists posts newest first, each redacted for viewerID.
func (s *Service) Feed(ctx context.Context, q FeedQuery, viewerID string) ([]access.PostView, error) {
	if q.Offset < 0 {
		q.Offset = 0
	}
	list, err := s.store.ListPosts(ctx, storage.PostFilter{
		CreatorID: q.CreatorID,
		Order:     storage.NewestFirst,
		Limit:     storage.NormalizeLimit(q.Limit),
		Offset:    q.Offset,
	})
	if err != nil {
		return nil, apperrors.Internal("list posts", err)
	}
	views, err := s.access.ViewAll(ctx, list, viewerID)
	if err != nil {
		return nil, apperrors.Internal("resolve access", err)
	}
	return views, nil
}

// LikeState is the result of a like toggle.
type LikeState struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likes_count"`
}

// ToggleLike flips userID's like on postID.
func (s *Service) ToggleLike(ctx context.Context, userID, postID string) (LikeState, error) {
	if userID == "" {
		return LikeState{}, apperrors.IdentityRequired()
	}
	liked, count, err := s.store.ToggleLike(ctx, userID, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LikeState{}, apperrors.NotFound("post", postID)
		}
		return LikeState{}, apperrors.Internal("toggle like", err)
	}
	return LikeState{Liked: liked, LikesCount: count}, nil
}
