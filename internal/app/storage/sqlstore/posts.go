package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/storage"
)

type postRow struct {
	ID         string          `db:"id"`
	CreatorID  string          `db:"creator_id"`
	Title      string          `db:"title"`
	TeaserText string          `db:"teaser_text"`
	MediaURL   string          `db:"media_url"`
	Price      decimal.Decimal `db:"price"`
	Currency   string          `db:"currency"`
	Locked     bool            `db:"locked"`
	LikesCount int             `db:"likes_count"`
	CreatedAt  time.Time       `db:"created_at"`
}

func (r postRow) toDomain() post.Post {
	return post.Post{
		ID:         r.ID,
		CreatorID:  r.CreatorID,
		Title:      r.Title,
		TeaserText: r.TeaserText,
		MediaURL:   r.MediaURL,
		Price:      r.Price,
		Currency:   post.Currency(r.Currency),
		Locked:     r.Locked,
		LikesCount: r.LikesCount,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

const postColumns = `id, creator_id, title, teaser_text, media_url, price, currency, locked, likes_count, created_at`

func (s *Store) GetPost(ctx context.Context, id string) (post.Post, error) {
	var row postRow
	query := s.db.Rebind(`SELECT ` + postColumns + ` FROM posts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return post.Post{}, s.mapError(err, "post "+id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPosts(ctx context.Context, filter storage.PostFilter) ([]post.Post, error) {
	var (
		where []string
		args  []any
	)
	if filter.CreatorID != "" {
		where = append(where, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.Locked != nil {
		where = append(where, "locked = ?")
		args = append(args, *filter.Locked)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + postColumns + ` FROM posts`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.Order == storage.OldestFirst {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, storage.NormalizeLimit(filter.Limit), max(filter.Offset, 0))

	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(b.String()), args...); err != nil {
		return nil, s.mapError(err, "list posts")
	}
	result := make([]post.Post, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) CreatePost(ctx context.Context, p post.Post) (post.Post, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	p.LikesCount = 0

	query := s.db.Rebind(`
		INSERT INTO posts (id, creator_id, title, teaser_text, media_url, price, currency, locked, likes_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.CreatorID, p.Title, p.TeaserText, p.MediaURL, p.Price.String(), string(p.Currency), p.Locked, p.CreatedAt)
	if err != nil {
		return post.Post{}, s.mapError(err, "create post")
	}
	return p, nil
}
