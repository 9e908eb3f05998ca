package push

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go-friendchat/internal/metrics"
	"go-friendchat/internal/registry"
)

// Report counts the outcome of every push attempted by one fan-out.
type Report struct {
	Delivered int
	Gone      int
	Failed    int
}

func (r Report) Attempted() int { return r.Delivered + r.Gone + r.Failed }

// Fanout resolves recipients through the registry and pushes a frame to each
// live connection concurrently. Every push outcome is observed exactly once:
// gone connections are reaped from the registry, other failures are logged.
type Fanout struct {
	registry  registry.Registry
	transport Transport
	limit     int
	log       zerolog.Logger
}

func NewFanout(reg registry.Registry, t Transport, maxConcurrency int, log zerolog.Logger) *Fanout {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Fanout{
		registry:  reg,
		transport: t,
		limit:     maxConcurrency,
		log:       log,
	}
}

// ToUsers pushes frame to every live connection of the given users.
func (f *Fanout) ToUsers(ctx context.Context, frame Frame, userIDs ...string) Report {
	conns := f.resolve(ctx, dedupe(userIDs))
	if len(conns) == 0 {
		return Report{}
	}
	return f.ToConnections(ctx, frame, conns...)
}

// ToConnections pushes frame to the listed connections.
func (f *Fanout) ToConnections(ctx context.Context, frame Frame, connectionIDs ...string) Report {
	if len(connectionIDs) == 0 {
		return Report{}
	}

	data, err := Encode(frame)
	if err != nil {
		f.log.Error().Err(err).Str("frame", string(frame.FrameType())).Msg("encode frame")
		return Report{Failed: len(connectionIDs)}
	}

	var delivered, gone, failed atomic.Int64
	ft := string(frame.FrameType())

	var g errgroup.Group
	g.SetLimit(f.limit)
	for _, id := range dedupe(connectionIDs) {
		g.Go(func() error {
			switch err := f.transport.Post(ctx, id, data); {
			case err == nil:
				delivered.Add(1)
				metrics.Pushes.WithLabelValues(ft, metrics.OutcomeDelivered).Inc()
			case errors.Is(err, ErrGone):
				gone.Add(1)
				metrics.Pushes.WithLabelValues(ft, metrics.OutcomeGone).Inc()
				f.reap(ctx, id)
			default:
				failed.Add(1)
				metrics.Pushes.WithLabelValues(ft, metrics.OutcomeFailed).Inc()
				f.log.Warn().Err(err).Str("conn_id", id).Str("frame", ft).Msg("push failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Delivered: int(delivered.Load()),
		Gone:      int(gone.Load()),
		Failed:    int(failed.Load()),
	}
}

func (f *Fanout) resolve(ctx context.Context, userIDs []string) []string {
	var (
		mu    sync.Mutex
		conns []string
		g     errgroup.Group
	)
	g.SetLimit(f.limit)
	for _, uid := range userIDs {
		g.Go(func() error {
			ids, err := f.registry.ListByUser(ctx, uid)
			if err != nil {
				f.log.Warn().Err(err).Str("user_id", uid).Msg("resolve connections")
				return nil
			}
			mu.Lock()
			conns = append(conns, ids...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return conns
}

func (f *Fanout) reap(ctx context.Context, connectionID string) {
	if err := f.registry.Delete(ctx, connectionID); err != nil {
		f.log.Warn().Err(err).Str("conn_id", connectionID).Msg("reap stale connection")
		return
	}
	metrics.ConnectionsReaped.Inc()
	f.log.Debug().Str("conn_id", connectionID).Msg("reaped stale connection")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
