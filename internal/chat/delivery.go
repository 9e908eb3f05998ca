package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go-friendchat/internal/metrics"
	"go-friendchat/internal/push"
)

// Notifier is the fan-out surface the chat handlers push through.
type Notifier interface {
	ToUsers(ctx context.Context, frame push.Frame, userIDs ...string) push.Report
	ToConnections(ctx context.Context, frame push.Frame, connectionIDs ...string) push.Report
}

// deliveryMarker applies receiver acknowledgements. It is shared by the
// MARK_DELIVERED frame and the status-update endpoint.
type deliveryMarker struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

type senderBatch struct {
	senderID        string
	conversationIDs map[string]struct{}
	messageIDs      []string
}

// markDelivered transitions each message sent to receiverID from sent to
// delivered and tells each distinct sender, concurrently, which of its
// messages changed.
// A failed condition is a skip. It returns the number of updated messages;
// err is non-nil only when every attempted update failed at the store.
func (d deliveryMarker) markDelivered(ctx context.Context, receiverID string, messageIDs []string) (int, error) {
	var (
		batches []*senderBatch
		bySend  = make(map[string]*senderBatch)
		seen    = make(map[string]struct{}, len(messageIDs))
		updated int
		failed  int
		lastErr error
	)

	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		msg, ok, err := d.store.MarkDelivered(ctx, id, receiverID)
		if err != nil {
			failed++
			lastErr = err
			d.log.Error().Err(err).Str("message_id", id).Msg("mark delivered")
			continue
		}
		if !ok {
			metrics.StatusUpdates.WithLabelValues("skipped").Inc()
			continue
		}
		updated++
		metrics.StatusUpdates.WithLabelValues("updated").Inc()

		b, exists := bySend[msg.SenderID]
		if !exists {
			b = &senderBatch{senderID: msg.SenderID, conversationIDs: make(map[string]struct{})}
			bySend[msg.SenderID] = b
			batches = append(batches, b)
		}
		b.conversationIDs[msg.ConversationID] = struct{}{}
		b.messageIDs = append(b.messageIDs, msg.ID)
	}

	ts := d.now().UTC()
	var g errgroup.Group
	for _, b := range batches {
		frame := push.MessageDelivered{
			Type:       push.TypeMessageDelivered,
			MessageIDs: b.messageIDs,
			Status:     StatusDelivered,
			Timestamp:  ts,
		}
		if len(b.conversationIDs) == 1 {
			for id := range b.conversationIDs {
				frame.ConversationID = id
			}
		}
		g.Go(func() error {
			d.notifier.ToUsers(ctx, frame, b.senderID)
			return nil
		})
	}
	_ = g.Wait()

	if updated == 0 && failed > 0 && failed == len(seen) {
		return 0, lastErr
	}
	return updated, nil
}
