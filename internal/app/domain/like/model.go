package like

import "time"

// Like marks a user's appreciation of a post. Toggled, one per pair.
type Like struct {
	UserID    string
	PostID    string
	CreatedAt time.Time
}
