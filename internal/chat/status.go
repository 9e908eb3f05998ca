package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"go-friendchat/internal/metrics"
)

type StatusRequest struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,max=100,dive,required"`
	Status     string   `json:"status" validate:"required"`
}

type StatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusService is the request/response path for delivery acknowledgements.
type StatusService struct {
	delivery deliveryMarker
	timeout  time.Duration
}

func NewStatusService(store Store, notifier Notifier, timeout time.Duration, log zerolog.Logger) *StatusService {
	return &StatusService{
		delivery: deliveryMarker{store: store, notifier: notifier, now: time.Now, log: log},
		timeout:  timeout,
	}
}

// UpdateMessageStatus marks the listed messages delivered on behalf of
// callerID. Zero updated messages is still a success.
func (s *StatusService) UpdateMessageStatus(ctx context.Context, callerID string, req StatusRequest) StatusResult {
	res, _ := s.update(ctx, callerID, req)
	return res
}

// update also reports the HTTP status code matching the result.
func (s *StatusService) update(ctx context.Context, callerID string, req StatusRequest) (StatusResult, int) {
	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues("status").Observe(time.Since(start).Seconds())
	}()

	if callerID == "" {
		return StatusResult{Message: "unauthorized: missing caller identity"}, http.StatusUnauthorized
	}
	if err := validateStatusRequest(req); err != nil {
		return StatusResult{Message: err.Error()}, http.StatusBadRequest
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.delivery.markDelivered(ctx, callerID, req.MessageIDs)
	if err != nil {
		return StatusResult{Message: "failed to update message status"}, http.StatusInternalServerError
	}
	return StatusResult{Success: true, Message: deliveredSummary(n)}, http.StatusOK
}

func validateStatusRequest(req StatusRequest) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid request: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	if req.Status != StatusDelivered {
		return fmt.Errorf("%w %q: only %q is accepted", ErrUnsupportedStatus, req.Status, StatusDelivered)
	}
	return nil
}
