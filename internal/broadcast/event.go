package broadcast

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindModify Kind = "MODIFY"
	KindRemove Kind = "REMOVE"
)

var errMissingImage = errors.New("row image missing")

// ChangeRecord is one row-level change on a source table. OldImage is absent
// for INSERT and NewImage is absent for REMOVE.
type ChangeRecord struct {
	Table    string          `json:"table"`
	Kind     Kind            `json:"kind"`
	OldImage json.RawMessage `json:"old"`
	NewImage json.RawMessage `json:"new"`
}

// DecodeNotification parses the payload written by the notify_table_change
// trigger.
func DecodeNotification(payload []byte) (ChangeRecord, error) {
	var rec ChangeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ChangeRecord{}, fmt.Errorf("decode change record: %w", err)
	}
	switch rec.Kind {
	case KindInsert, KindModify, KindRemove:
	default:
		return ChangeRecord{}, fmt.Errorf("decode change record: unknown kind %q", rec.Kind)
	}
	if rec.Table == "" {
		return ChangeRecord{}, errors.New("decode change record: missing table")
	}
	return rec, nil
}

func decodeImage[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, errMissingImage
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode row image: %w", err)
	}
	return v, nil
}
