package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrGone reports that no gateway node holds the connection any more. It is a
// cleanup signal for the registry row, not a delivery error.
var ErrGone = errors.New("connection gone")

// Transport delivers an encoded frame to one live connection.
type Transport interface {
	Post(ctx context.Context, connectionID string, data []byte) error
}

type BreakerSettings struct {
	Failures         uint32
	OpenFor          time.Duration
	HalfOpenRequests uint32
}

// RedisTransport publishes frames on the connection's pub/sub channel. The
// gateway node that owns the socket subscribes to that channel for the
// connection's lifetime, so zero receivers means the connection is gone.
type RedisTransport struct {
	rdb    redis.UniversalClient
	prefix string
	cb     *gobreaker.CircuitBreaker[int64]
}

func NewRedisTransport(rdb redis.UniversalClient, channelPrefix string, bs BreakerSettings, log zerolog.Logger) *RedisTransport {
	cb := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "push-publish",
		MaxRequests: bs.HalfOpenRequests,
		Timeout:     bs.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &RedisTransport{rdb: rdb, prefix: channelPrefix, cb: cb}
}

// Channel is the pub/sub channel a connection's frames are published on.
func Channel(prefix, connectionID string) string {
	return prefix + ":" + connectionID
}

func (t *RedisTransport) Post(ctx context.Context, connectionID string, data []byte) error {
	n, err := t.cb.Execute(func() (int64, error) {
		return t.rdb.Publish(ctx, Channel(t.prefix, connectionID), data).Result()
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", connectionID, err)
	}
	if n == 0 {
		return ErrGone
	}
	return nil
}
