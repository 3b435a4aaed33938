package follow

import (
	"errors"
	"time"
)

// Follow is a directed edge from FollowerID to FollowedID.
type Follow struct {
	FollowerID string    `json:"follower_id"`
	FollowedID string    `json:"followed_id"`
	CreatedAt  time.Time `json:"created_at"`
}

var ErrSelfFollow = errors.New("users cannot follow themselves")

func (f Follow) Validate() error {
	if f.FollowerID == "" || f.FollowedID == "" {
		return errors.New("follower and followed ids required")
	}
	if f.FollowerID == f.FollowedID {
		return ErrSelfFollow
	}
	return nil
}
