package user

import "time"

// User is a row of the users table. Coordinates are nil until the first fix.
type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	IsLocationSharing bool       `json:"is_location_sharing"`
	IsOnline          bool       `json:"is_online"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
	LocationUpdatedAt *time.Time `json:"location_updated_at,omitempty"`
}

// Friend is stored once per pair, with either user in either slot.
type Friend struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	FriendID       string `json:"friend_id"`
	UserUsername   string `json:"user_username"`
	FriendUsername string `json:"friend_username"`
}

// Counterpart returns the id and username of the other member of the pair, as
// seen from subjectID. ok is false when subjectID is not part of the row.
func (f Friend) Counterpart(subjectID string) (id, username string, ok bool) {
	switch subjectID {
	case f.UserID:
		return f.FriendID, f.FriendUsername, true
	case f.FriendID:
		return f.UserID, f.UserUsername, true
	default:
		return "", "", false
	}
}

const (
	RequestPending  = "PENDING"
	RequestAccepted = "ACCEPTED"
)

// FriendRequest is deleted on rejection or cancellation.
type FriendRequest struct {
	ID               string `json:"id"`
	SenderID         string `json:"sender_id"`
	ReceiverID       string `json:"receiver_id"`
	SenderUsername   string `json:"sender_username"`
	ReceiverUsername string `json:"receiver_username"`
	Status           string `json:"status"`
}

// FriendView is a friend entry from the caller's perspective.
type FriendView struct {
	FriendshipID string `json:"friendship_id"`
	ID           string `json:"id"`
	Username     string `json:"username"`
}
