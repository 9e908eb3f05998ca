// Package registry maps live connection ids to their owning user.
//
// Each connection is a Redis hash keyed by connection id; a per-user set
// indexes the connection ids owned by that user so ListByUser never scans.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("connection not found")

type Connection struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastPingAt   time.Time `json:"lastPingAt"`
}

type Registry interface {
	Put(ctx context.Context, connectionID, userID string) error
	Get(ctx context.Context, connectionID string) (Connection, error)
	Touch(ctx context.Context, connectionID string) error
	Delete(ctx context.Context, connectionID string) error
	ListByUser(ctx context.Context, userID string) ([]string, error)
}

const (
	fieldUserID      = "userId"
	fieldConnectedAt = "connectedAt"
	fieldLastPingAt  = "lastPingAt"
)

// touchScript refreshes lastPingAt only when the row still exists, so a ping
// racing a disconnect cannot resurrect a half-written hash.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
    return 1
end
return 0
`)

// pruneScript returns the members of KEYS[1] whose hash (KEYS[2..]) still
// names ARGV[2] as owner and drops the rest from the index. ARGV[3..] are the
// member ids in KEYS order.
var pruneScript = redis.NewScript(`
local live = {}
for i = 2, #KEYS do
    if redis.call('HGET', KEYS[i], ARGV[1]) == ARGV[2] then
        table.insert(live, ARGV[i + 1])
    else
        redis.call('SREM', KEYS[1], ARGV[i + 1])
    end
end
return live
`)

type RedisRegistry struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRegistry(rdb redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
	}
}

func (r *RedisRegistry) connKey(connectionID string) string {
	return fmt.Sprintf("%s:conn:%s", r.prefix, connectionID)
}

func (r *RedisRegistry) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:conns", r.prefix, userID)
}

// Put upserts the row for connectionID. A connection id belongs to exactly one
// user, so a previous owner's index entry is removed in the same transaction.
func (r *RedisRegistry) Put(ctx context.Context, connectionID, userID string) error {
	prev, err := r.rdb.HGet(ctx, r.connKey(connectionID), fieldUserID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("registry put %s: %w", connectionID, err)
	}

	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != userID {
			pipe.SRem(ctx, r.userKey(prev), connectionID)
		}
		pipe.HSet(ctx, r.connKey(connectionID),
			fieldUserID, userID,
			fieldConnectedAt, now,
			fieldLastPingAt, now,
		)
		pipe.SAdd(ctx, r.userKey(userID), connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry put %s: %w", connectionID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, connectionID string) (Connection, error) {
	vals, err := r.rdb.HGetAll(ctx, r.connKey(connectionID)).Result()
	if err != nil {
		return Connection{}, fmt.Errorf("registry get %s: %w", connectionID, err)
	}
	if vals[fieldUserID] == "" {
		return Connection{}, ErrNotFound
	}

	return Connection{
		ConnectionID: connectionID,
		UserID:       vals[fieldUserID],
		ConnectedAt:  parseMillis(vals[fieldConnectedAt]),
		LastPingAt:   parseMillis(vals[fieldLastPingAt]),
	}, nil
}

func (r *RedisRegistry) Touch(ctx context.Context, connectionID string) error {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	n, err := touchScript.Run(ctx, r.rdb, []string{r.connKey(connectionID)}, fieldLastPingAt, now).Int()
	if err != nil {
		return fmt.Errorf("registry touch %s: %w", connectionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete is idempotent: deleting an absent row succeeds. An index entry left
// behind by a missing row is dropped by the next ListByUser.
func (r *RedisRegistry) Delete(ctx context.Context, connectionID string) error {
	userID, err := r.rdb.HGet(ctx, r.connKey(connectionID), fieldUserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry delete %s: %w", connectionID, err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.connKey(connectionID))
		pipe.SRem(ctx, r.userKey(userID), connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry delete %s: %w", connectionID, err)
	}
	return nil
}

// ListByUser returns the user's connection ids that still have a row.
// Index members without one are removed in the same script run.
func (r *RedisRegistry) ListByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry list %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	keys := make([]string, 0, len(ids)+1)
	args := make([]any, 0, len(ids)+2)
	keys = append(keys, r.userKey(userID))
	args = append(args, fieldUserID, userID)
	for _, id := range ids {
		keys = append(keys, r.connKey(id))
		args = append(args, id)
	}

	live, err := pruneScript.Run(ctx, r.rdb, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("registry list %s: %w", userID, err)
	}
	return live, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
