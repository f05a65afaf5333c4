package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AllKinds(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    Inbound
		session string
	}{
		{
			name:    "join-session",
			raw:     `{"event":"join-session","data":{"sessionId":"s1","userId":"u1","username":"alice"}}`,
			want:    JoinSession{SessionID: "s1", UserID: "u1", Username: "alice"},
			session: "s1",
		},
		{
			name:    "code-change",
			raw:     `{"event":"code-change","data":{"sessionId":"s1","code":"package main","userId":"u1"}}`,
			want:    CodeChange{SessionID: "s1", Code: "package main", UserID: "u1"},
			session: "s1",
		},
		{
			name:    "code-change with empty code",
			raw:     `{"event":"code-change","data":{"sessionId":"s1","code":"","userId":"u1"}}`,
			want:    CodeChange{SessionID: "s1", Code: "", UserID: "u1"},
			session: "s1",
		},
		{
			name:    "typing-start",
			raw:     `{"event":"typing-start","data":{"sessionId":"s1","userId":"u1"}}`,
			want:    TypingStart{SessionID: "s1", UserID: "u1"},
			session: "s1",
		},
		{
			name:    "typing-stop",
			raw:     `{"event":"typing-stop","data":{"sessionId":"s1","userId":"u1"}}`,
			want:    TypingStop{SessionID: "s1", UserID: "u1"},
			session: "s1",
		},
		{
			name:    "ai-suggestion",
			raw:     `{"event":"ai-suggestion","data":{"sessionId":"s1","suggestion":"rename this","userId":"u1"}}`,
			want:    AISuggestion{SessionID: "s1", Suggestion: "rename this", UserID: "u1"},
			session: "s1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.session, got.Session())
		})
	}
}

func TestDecode_RawPayloadKinds(t *testing.T) {
	got, err := Decode([]byte(`{"event":"cursor-move","data":{"sessionId":"s1","position":{"line":5},"userId":"u1"}}`))
	require.NoError(t, err)
	cursor, ok := got.(CursorMove)
	require.True(t, ok)
	assert.JSONEq(t, `{"line":5}`, string(cursor.Position))

	got, err = Decode([]byte(`{"event":"add-comment","data":{"sessionId":"s1","comment":"nit","userId":"u1"}}`))
	require.NoError(t, err)
	comment, ok := got.(AddComment)
	require.True(t, ok)
	assert.JSONEq(t, `"nit"`, string(comment.Comment))
}

func TestDecode_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name:    "unknown kind",
			raw:     `{"event":"drop-tables","data":{"sessionId":"s1"}}`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "outbound kind is not inbound",
			raw:     `{"event":"code-updated","data":{"code":"x","userId":"u1"}}`,
			wantErr: ErrUnknownKind,
		},
		{
			name:    "not json",
			raw:     `not even json`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "join missing username",
			raw:     `{"event":"join-session","data":{"sessionId":"s1","userId":"u1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "code-change missing sessionId",
			raw:     `{"event":"code-change","data":{"code":"x","userId":"u1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "cursor-move missing position",
			raw:     `{"event":"cursor-move","data":{"sessionId":"s1","userId":"u1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "add-comment missing comment",
			raw:     `{"event":"add-comment","data":{"sessionId":"s1","userId":"u1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "typing-start missing userId",
			raw:     `{"event":"typing-start","data":{"sessionId":"s1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "payload with wrong types",
			raw:     `{"event":"code-change","data":{"sessionId":5,"code":"x","userId":"u1"}}`,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
