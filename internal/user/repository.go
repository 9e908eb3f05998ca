package user

import (
	"context"
	"database/sql"

	"go-friendchat/internal/config"
)

type Repository struct {
	db     *sql.DB
	tables config.TablesConfig
}

// NewRepository reads from the configured tables. The names are validated
// identifiers, so they are safe to interpolate.
func NewRepository(db *sql.DB, tables config.TablesConfig) *Repository {
	return &Repository{db: db, tables: tables}
}

// ListFriends returns every friend row the user appears in, on either side.
func (r *Repository) ListFriends(ctx context.Context, userID string) ([]Friend, error) {
	query := `SELECT id, user_id, friend_id, user_username, friend_username
		FROM ` + r.tables.Friends + ` WHERE user_id = $1 OR friend_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.ID, &f.UserID, &f.FriendID, &f.UserUsername, &f.FriendUsername); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username FROM ` + r.tables.Users + ` WHERE username ILIKE $1 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
