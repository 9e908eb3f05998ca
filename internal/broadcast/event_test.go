package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/user"
)

func TestDecodeNotification(t *testing.T) {
	rec, err := DecodeNotification([]byte(`{"table":"friends","kind":"INSERT","old":null,"new":{"id":"f1","user_id":"a","friend_id":"b"}}`))
	require.NoError(t, err)
	assert.Equal(t, "friends", rec.Table)
	assert.Equal(t, KindInsert, rec.Kind)

	_, err = decodeImage[user.Friend](rec.OldImage)
	assert.ErrorIs(t, err, errMissingImage)

	f, err := decodeImage[user.Friend](rec.NewImage)
	require.NoError(t, err)
	assert.Equal(t, user.Friend{ID: "f1", UserID: "a", FriendID: "b"}, f)
}

func TestDecodeNotificationRejects(t *testing.T) {
	for _, raw := range []string{
		`nope`,
		`{"table":"friends","kind":"UPSERT"}`,
		`{"kind":"INSERT"}`,
	} {
		_, err := DecodeNotification([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestDecodeUserImage(t *testing.T) {
	raw := []byte(`{"id":"u1","username":"alice","latitude":52.5,"longitude":13.4,"is_location_sharing":true,` +
		`"is_online":false,"last_seen":null,"location_updated_at":"2026-01-02T03:04:05.123456+00:00","created_at":"2026-01-01T00:00:00+00:00"}`)

	u, err := decodeImage[user.User](raw)
	require.NoError(t, err)
	require.NotNil(t, u.Latitude)
	assert.Equal(t, 52.5, *u.Latitude)
	assert.True(t, u.IsLocationSharing)
	require.NotNil(t, u.LocationUpdatedAt)
	assert.Equal(t, 123456000, u.LocationUpdatedAt.Nanosecond())
	assert.Nil(t, u.LastSeen)
}
