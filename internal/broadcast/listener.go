package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"go-friendchat/internal/config"
)

type BatchHandler interface {
	HandleBatch(ctx context.Context, records []ChangeRecord) error
}

// Listener receives change records from Postgres LISTEN/NOTIFY and feeds them
// to a BatchHandler in batches.
type Listener struct {
	dsn        string
	channel    string
	batchSize  int
	window     time.Duration
	retryDelay time.Duration
	timeout    time.Duration
	handler    BatchHandler
	log        zerolog.Logger
}

func NewListener(dsn string, cfg config.ChangesConfig, timeout time.Duration, handler BatchHandler, log zerolog.Logger) *Listener {
	return &Listener{
		dsn:        dsn,
		channel:    cfg.Channel,
		batchSize:  cfg.BatchSize,
		window:     cfg.BatchWindow,
		retryDelay: cfg.RetryDelay,
		timeout:    timeout,
		handler:    handler,
		log:        log,
	}
}

// Run listens until ctx is cancelled, reconnecting after RetryDelay whenever
// the connection drops. Notifications sent while disconnected are lost;
// clients recover by re-reading the data store.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Error().Err(err).Dur("retry_in", l.retryDelay).Msg("change listener disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info().Str("channel", l.channel).Msg("listening for change records")

	records := make(chan ChangeRecord, l.batchSize)
	errc := make(chan error, 1)
	go func() {
		defer close(records)
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				errc <- err
				return
			}
			rec, err := DecodeNotification([]byte(n.Payload))
			if err != nil {
				l.log.Warn().Err(err).Msg("skipping notification")
				continue
			}
			records <- rec
		}
	}()

	collect(records, l.batchSize, l.window, func(batch []ChangeRecord) {
		l.dispatch(ctx, batch)
	})
	return <-errc
}

func (l *Listener) dispatch(ctx context.Context, batch []ChangeRecord) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.handler.HandleBatch(ctx, batch); err != nil {
		l.log.Error().Err(err).Int("records", len(batch)).Msg("change batch aborted")
	}
}

// collect groups records into batches of at most size, flushing a partial
// batch once window has passed since its first record. It returns after
// records is closed and drained.
func collect(records <-chan ChangeRecord, size int, window time.Duration, flush func([]ChangeRecord)) {
	for {
		first, ok := <-records
		if !ok {
			return
		}
		batch := []ChangeRecord{first}
		timer := time.NewTimer(window)

	fill:
		for len(batch) < size {
			select {
			case rec, ok := <-records:
				if !ok {
					break fill
				}
				batch = append(batch, rec)
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()
		flush(batch)
	}
}
