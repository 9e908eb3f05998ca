package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go-friendchat/internal/config"
	"go-friendchat/internal/metrics"
	"go-friendchat/internal/push"
	"go-friendchat/internal/user"
)

var ErrMisconfigured = errors.New("broadcast handler misconfigured")

// Notifier pushes a frame to every live connection of the given users.
type Notifier interface {
	ToUsers(ctx context.Context, frame push.Frame, userIDs ...string) push.Report
}

// Handler turns data-store change records into push notifications.
type Handler struct {
	tables      config.TablesConfig
	pushChannel string
	friends     user.FriendStore
	notifier    Notifier
	now         func() time.Time
	log         zerolog.Logger
}

func NewHandler(tables config.TablesConfig, pushChannel string, friends user.FriendStore, notifier Notifier, log zerolog.Logger) *Handler {
	return &Handler{
		tables:      tables,
		pushChannel: pushChannel,
		friends:     friends,
		notifier:    notifier,
		now:         time.Now,
		log:         log,
	}
}

func (h *Handler) checkConfig() error {
	var missing []string
	if h.tables.Users == "" {
		missing = append(missing, "users table")
	}
	if h.tables.Friends == "" {
		missing = append(missing, "friends table")
	}
	if h.tables.FriendRequests == "" {
		missing = append(missing, "friend requests table")
	}
	if h.pushChannel == "" {
		missing = append(missing, "push channel")
	}
	if h.friends == nil || h.notifier == nil {
		missing = append(missing, "dependencies")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrMisconfigured, missing)
	}
	return nil
}

// HandleBatch processes every record of the batch. A record that cannot be
// decoded is logged and skipped; delivery failures never fail the batch.
// Configuration is checked before any record is touched.
func (h *Handler) HandleBatch(ctx context.Context, records []ChangeRecord) error {
	if err := h.checkConfig(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues("broadcast").Observe(time.Since(start).Seconds())
	}()

	for _, rec := range records {
		metrics.ChangeEvents.WithLabelValues(rec.Table, string(rec.Kind)).Inc()
		if err := h.handle(ctx, rec); err != nil {
			h.log.Warn().Err(err).
				Str("table", rec.Table).
				Str("kind", string(rec.Kind)).
				Msg("skipping change record")
		}
	}
	return nil
}

func (h *Handler) handle(ctx context.Context, rec ChangeRecord) error {
	switch rec.Table {
	case h.tables.Users:
		if rec.Kind == KindModify {
			return h.userModified(ctx, rec)
		}
	case h.tables.Friends:
		switch rec.Kind {
		case KindInsert:
			return h.friendChanged(ctx, rec.NewImage, push.TypeFriendAdded)
		case KindRemove:
			return h.friendChanged(ctx, rec.OldImage, push.TypeFriendRemoved)
		}
	case h.tables.FriendRequests:
		switch rec.Kind {
		case KindInsert:
			return h.requestCreated(ctx, rec)
		case KindModify:
			return h.requestModified(ctx, rec)
		case KindRemove:
			return h.requestDeleted(ctx, rec)
		}
	default:
		h.log.Debug().Str("table", rec.Table).Msg("change on unwatched table")
	}
	return nil
}

type outbound struct {
	userID string
	frame  push.Frame
}

// send delivers distinct frames to distinct users concurrently.
func (h *Handler) send(ctx context.Context, msgs ...outbound) {
	var g errgroup.Group
	for _, m := range msgs {
		g.Go(func() error {
			h.notifier.ToUsers(ctx, m.frame, m.userID)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Handler) userModified(ctx context.Context, rec ChangeRecord) error {
	oldUser, err := decodeImage[user.User](rec.OldImage)
	if err != nil {
		return err
	}
	newUser, err := decodeImage[user.User](rec.NewImage)
	if err != nil {
		return err
	}

	if !locationChanged(oldUser, newUser) {
		return nil
	}
	// Friends only ever see coordinates while sharing is on.
	if !oldUser.IsLocationSharing && !newUser.IsLocationSharing {
		return nil
	}
	if staleLocation(oldUser, newUser) {
		h.log.Debug().Str("user_id", newUser.ID).Msg("sharing enabled without a fresh fix, holding update")
		return nil
	}

	rows, err := h.friends.ListFriends(ctx, newUser.ID)
	if err != nil {
		return fmt.Errorf("list friends of %s: %w", newUser.ID, err)
	}
	recipients := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, _, ok := row.Counterpart(newUser.ID); ok {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	frame := push.UserUpdate{
		Type:              push.TypeUserUpdate,
		UserID:            newUser.ID,
		Username:          newUser.Username,
		IsLocationSharing: newUser.IsLocationSharing,
		Timestamp:         h.now().UTC(),
	}
	if newUser.IsLocationSharing {
		frame.Latitude = newUser.Latitude
		frame.Longitude = newUser.Longitude
		frame.LocationUpdatedAt = newUser.LocationUpdatedAt
	}

	h.notifier.ToUsers(ctx, frame, recipients...)
	return nil
}

func locationChanged(old, cur user.User) bool {
	return !floatEqual(old.Latitude, cur.Latitude) ||
		!floatEqual(old.Longitude, cur.Longitude) ||
		old.IsLocationSharing != cur.IsLocationSharing
}

// staleLocation reports a sharing re-enable that carries no fresh coordinate:
// the stored position is whatever was last seen before sharing was turned off.
func staleLocation(old, cur user.User) bool {
	if !cur.IsLocationSharing {
		return false
	}
	if cur.Latitude == nil || cur.Longitude == nil {
		return true
	}
	if old.IsLocationSharing {
		return false
	}
	fresh := !floatEqual(old.Latitude, cur.Latitude) ||
		!floatEqual(old.Longitude, cur.Longitude) ||
		!timeEqual(old.LocationUpdatedAt, cur.LocationUpdatedAt)
	return !fresh
}

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (h *Handler) friendChanged(ctx context.Context, image []byte, ft push.FrameType) error {
	f, err := decodeImage[user.Friend](image)
	if err != nil {
		return err
	}
	ts := h.now().UTC()
	h.send(ctx,
		outbound{userID: f.UserID, frame: push.FriendChange{
			Type:           ft,
			FriendshipID:   f.ID,
			FriendID:       f.FriendID,
			FriendUsername: f.FriendUsername,
			Timestamp:      ts,
		}},
		outbound{userID: f.FriendID, frame: push.FriendChange{
			Type:           ft,
			FriendshipID:   f.ID,
			FriendID:       f.UserID,
			FriendUsername: f.UserUsername,
			Timestamp:      ts,
		}},
	)
	return nil
}

func (h *Handler) requestCreated(ctx context.Context, rec ChangeRecord) error {
	req, err := decodeImage[user.FriendRequest](rec.NewImage)
	if err != nil {
		return err
	}
	ts := h.now().UTC()
	h.send(ctx,
		outbound{userID: req.ReceiverID, frame: push.FriendRequestReceived{
			Type:           push.TypeFriendRequestReceived,
			RequestID:      req.ID,
			SenderID:       req.SenderID,
			SenderUsername: req.SenderUsername,
			Status:         req.Status,
			Timestamp:      ts,
		}},
		outbound{userID: req.SenderID, frame: push.FriendRequestSent{
			Type:             push.TypeFriendRequestSent,
			RequestID:        req.ID,
			ReceiverID:       req.ReceiverID,
			ReceiverUsername: req.ReceiverUsername,
			Status:           req.Status,
			Timestamp:        ts,
		}},
	)
	return nil
}

func (h *Handler) requestModified(ctx context.Context, rec ChangeRecord) error {
	oldReq, err := decodeImage[user.FriendRequest](rec.OldImage)
	if err != nil {
		return err
	}
	req, err := decodeImage[user.FriendRequest](rec.NewImage)
	if err != nil {
		return err
	}
	if oldReq.Status != user.RequestPending || req.Status != user.RequestAccepted {
		return nil
	}

	ts := h.now().UTC()
	h.send(ctx,
		outbound{userID: req.SenderID, frame: push.FriendRequestAccepted{
			Type:             push.TypeFriendRequestAccepted,
			RequestID:        req.ID,
			ReceiverID:       req.ReceiverID,
			ReceiverUsername: req.ReceiverUsername,
			Status:           req.Status,
			Timestamp:        ts,
		}},
		outbound{userID: req.ReceiverID, frame: push.FriendRequestAccepted{
			Type:             push.TypeFriendRequestAccepted,
			RequestID:        req.ID,
			ReceiverID:       req.SenderID,
			ReceiverUsername: req.SenderUsername,
			Status:           req.Status,
			Timestamp:        ts,
		}},
	)
	return nil
}

func (h *Handler) requestDeleted(ctx context.Context, rec ChangeRecord) error {
	req, err := decodeImage[user.FriendRequest](rec.OldImage)
	if err != nil {
		return err
	}
	frame := push.FriendRequestDeleted{
		Type:       push.TypeFriendRequestDeleted,
		RequestID:  req.ID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Timestamp:  h.now().UTC(),
	}
	h.send(ctx,
		outbound{userID: req.SenderID, frame: frame},
		outbound{userID: req.ReceiverID, frame: frame},
	)
	return nil
}
