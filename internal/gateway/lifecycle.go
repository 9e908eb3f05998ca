package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"go-friendchat/internal/metrics"
	"go-friendchat/internal/registry"
)

// ConnectEvent describes a transport open. AuthUserID is the subject of the
// validated bearer token, empty when the route is unauthenticated.
type ConnectEvent struct {
	ConnectionID string
	UserID       string
	AuthUserID   string
}

// Lifecycle records connection open and close in the registry.
type Lifecycle struct {
	registry registry.Registry
	log      zerolog.Logger
}

func NewLifecycle(reg registry.Registry, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{registry: reg, log: log}
}

func (l *Lifecycle) Connect(ctx context.Context, ev ConnectEvent) Response {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues("connect").Observe(time.Since(start).Seconds())
	}()

	if ev.UserID == "" {
		return BadRequest("userId is required")
	}
	if ev.AuthUserID != "" && ev.AuthUserID != ev.UserID {
		l.log.Warn().
			Str("connection_id", ev.ConnectionID).
			Str("user_id", ev.UserID).
			Str("token_user_id", ev.AuthUserID).
			Msg("connect rejected: token does not match userId")
		return Forbidden("userId does not match token")
	}

	if err := l.registry.Put(ctx, ev.ConnectionID, ev.UserID); err != nil {
		l.log.Error().Err(err).Str("connection_id", ev.ConnectionID).Msg("register connection")
		return InternalError("failed to connect")
	}

	l.log.Info().Str("connection_id", ev.ConnectionID).Str("user_id", ev.UserID).Msg("connected")
	return OK("connected")
}

// Disconnect always succeeds; a row that survives a failed delete is reaped
// by the next push that finds the connection gone.
func (l *Lifecycle) Disconnect(ctx context.Context, connectionID string) Response {
	if err := l.registry.Delete(ctx, connectionID); err != nil {
		l.log.Error().Err(err).Str("connection_id", connectionID).Msg("unregister connection")
	} else {
		l.log.Info().Str("connection_id", connectionID).Msg("disconnected")
	}
	return OK("disconnected")
}
