package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nightstudio/paywall/internal/app/domain/follow"
)

type followRow struct {
	FollowerID string    `db:"follower_id"`
	FollowedID string    `db:"followed_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r followRow) toDomain() follow.Follow {
	return follow.Follow{FollowerID: r.FollowerID, FollowedID: r.FollowedID, CreatedAt: r.CreatedAt.UTC()}
}

func (s *Store) CreateFollow(ctx context.Context, f follow.Follow) (follow.Follow, error) {
	if err := f.Validate(); err != nil {
		return follow.Follow{}, err
	}
	f.CreatedAt = time.Now().UTC()

	err := s.withTx(ctx, "create follow", func(tx *sqlx.Tx) error {
		insert := tx.Rebind(`INSERT INTO follows (follower_id, followed_id, created_at) VALUES (?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, f.FollowerID, f.FollowedID, f.CreatedAt); err != nil {
			return s.mapError(err, "follow "+f.FollowerID+"->"+f.FollowedID)
		}
		return adjustFollowCounters(ctx, tx, f.FollowerID, f.FollowedID, 1)
	})
	if err != nil {
		return follow.Follow{}, err
	}
	return f, nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followedID string) error {
	return s.withTx(ctx, "delete follow", func(tx *sqlx.Tx) error {
		del := tx.Rebind(`DELETE FROM follows WHERE follower_id = ? AND followed_id = ?`)
		result, err := tx.ExecContext(ctx, del, followerID, followedID)
		if err != nil {
			return s.mapError(err, "unfollow "+followerID+"->"+followedID)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return s.mapError(sql.ErrNoRows, "follow "+followerID+"->"+followedID)
		}
		return adjustFollowCounters(ctx, tx, followerID, followedID, -1)
	})
}

func adjustFollowCounters(ctx context.Context, tx *sqlx.Tx, followerID, followedID string, delta int) error {
	following := tx.Rebind(`UPDATE users SET following_count = MAX(following_count + ?, 0) WHERE id = ?`)
	followers := tx.Rebind(`UPDATE users SET followers_count = MAX(followers_count + ?, 0) WHERE id = ?`)
	if tx.DriverName() == string(Postgres) {
		following = tx.Rebind(`UPDATE users SET following_count = GREATEST(following_count + ?, 0) WHERE id = ?`)
		followers = tx.Rebind(`UPDATE users SET followers_count = GREATEST(followers_count + ?, 0) WHERE id = ?`)
	}
	if _, err := tx.ExecContext(ctx, following, delta, followerID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, followers, delta, followedID)
	return err
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followedID string) (bool, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM follows WHERE follower_id = ? AND followed_id = ?`)
	if err := s.db.GetContext(ctx, &n, query, followerID, followedID); err != nil {
		return false, s.mapError(err, "is following")
	}
	return n > 0, nil
}

func (s *Store) ListFollowers(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(ctx, "followed_id", userID)
}

func (s *Store) ListFollowing(ctx context.Context, userID string) ([]follow.Follow, error) {
	return s.listFollows(ctx, "follower_id", userID)
}

func (s *Store) listFollows(ctx context.Context, column, userID string) ([]follow.Follow, error) {
	var rows []followRow
	query := s.db.Rebind(`SELECT follower_id, followed_id, created_at FROM follows WHERE ` + column + ` = ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, s.mapError(err, "list follows "+userID)
	}
	result := make([]follow.Follow, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

func (s *Store) ToggleLike(ctx context.Context, userID, postID string) (bool, int, error) {
	var (
		liked bool
		count int
	)
	err := s.withTx(ctx, "toggle like", func(tx *sqlx.Tx) error {
		del := tx.Rebind(`DELETE FROM post_likes WHERE user_id = ? AND post_id = ?`)
		result, err := tx.ExecContext(ctx, del, userID, postID)
		if err != nil {
			return s.mapError(err, "unlike")
		}
		delta := -1
		if rows, _ := result.RowsAffected(); rows == 0 {
			ins := tx.Rebind(`INSERT INTO post_likes (user_id, post_id, created_at) VALUES (?, ?, ?)`)
			if _, err := tx.ExecContext(ctx, ins, userID, postID, time.Now().UTC()); err != nil {
				return s.mapError(err, "like post "+postID)
			}
			liked, delta = true, 1
		}

		upd := tx.Rebind(`UPDATE posts SET likes_count = likes_count + ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, upd, delta, postID); err != nil {
			return s.mapError(err, "update likes")
		}
		sel := tx.Rebind(`SELECT likes_count FROM posts WHERE id = ?`)
		return s.mapError(tx.GetContext(ctx, &count, sel, postID), "post "+postID)
	})
	if err != nil {
		return false, 0, err
	}
	return liked, count, nil
}
