package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    InboundFrame
		wantErr error
	}{
		{
			name: "ping",
			raw:  `{"action":"ping"}`,
			want: PingFrame{},
		},
		{
			name: "chat message",
			raw:  `{"action":"message","type":"CHAT_MESSAGE","conversationId":"a_b","senderId":"a","receiverId":"b","messageText":"hi"}`,
			want: ChatMessageFrame{ConversationID: "a_b", SenderID: "a", ReceiverID: "b", MessageText: "hi"},
		},
		{
			name: "typing start",
			raw:  `{"action":"message","type":"TYPING_START","receiverId":"b"}`,
			want: TypingFrame{ReceiverID: "b", IsTyping: true},
		},
		{
			name: "typing stop",
			raw:  `{"action":"message","type":"TYPING_STOP","receiverId":"b"}`,
			want: TypingFrame{ReceiverID: "b", IsTyping: false},
		},
		{
			name: "typing indicator",
			raw:  `{"action":"message","type":"TYPING_INDICATOR","receiverId":"b","isTyping":true}`,
			want: TypingFrame{ReceiverID: "b", IsTyping: true},
		},
		{
			name: "mark delivered",
			raw:  `{"action":"message","type":"MARK_DELIVERED","conversationId":"a_b","messageIds":["m1","m2"]}`,
			want: MarkDeliveredFrame{ConversationID: "a_b", MessageIDs: []string{"m1", "m2"}},
		},
		{
			name:    "not json",
			raw:     `hello`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown action",
			raw:     `{"action":"dance"}`,
			wantErr: ErrUnknownFrame,
		},
		{
			name:    "unknown type",
			raw:     `{"action":"message","type":"READ_RECEIPT"}`,
			wantErr: ErrUnknownFrame,
		},
		{
			name:    "chat message without text",
			raw:     `{"action":"message","type":"CHAT_MESSAGE","receiverId":"b"}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "typing indicator without flag",
			raw:     `{"action":"message","type":"TYPING_INDICATOR","receiverId":"b"}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "mark delivered without ids",
			raw:     `{"action":"message","type":"MARK_DELIVERED","messageIds":[]}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "mark delivered with blank id",
			raw:     `{"action":"message","type":"MARK_DELIVERED","messageIds":["m1",""]}`,
			wantErr: ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
