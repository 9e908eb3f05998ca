package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FriendStore is the read side of the friends table.
type FriendStore interface {
	ListFriends(ctx context.Context, userID string) ([]Friend, error)
}

type Service struct {
	repo      *Repository
	jwtSecret string
	issuer    string
}

// Claims are issued by the identity provider; the subject is the user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret, issuer string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		issuer:    issuer,
	}
}

// NewToken signs an HS256 token for id. Used by tools and tests that stand in
// for the identity provider.
func NewToken(secret, issuer, id, username string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, opts...)
	if err != nil {
		return "", "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", "", errors.New("invalid token")
	}

	return claims.Subject, claims.Username, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}

// Friends lists the caller's friends from the caller's side of each row.
func (s *Service) Friends(ctx context.Context, userID string) ([]FriendView, error) {
	return ListFriendViews(ctx, s.repo, userID)
}

func ListFriendViews(ctx context.Context, store FriendStore, userID string) ([]FriendView, error) {
	rows, err := store.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]FriendView, 0, len(rows))
	for _, row := range rows {
		id, name, ok := row.Counterpart(userID)
		if !ok {
			continue
		}
		views = append(views, FriendView{FriendshipID: row.ID, ID: id, Username: name})
	}
	return views, nil
}
