package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationIDIsOrderIndependent(t *testing.T) {
	req := require.New(t)

	a, err := ConversationID([]string{"u2", "u1"})
	req.NoError(err)
	b, err := ConversationID([]string{"u1", " u2 ", "u1"})
	req.NoError(err)

	req.Equal("u1_u2", a)
	req.Equal(a, b)
}

func TestConversationIDRejectsBadSets(t *testing.T) {
	cases := map[string][]string{
		"single":    {"u1"},
		"duplicate": {"u1", "u1"},
		"empty":     {"u1", ""},
		"separator": {"u1", "a_b"},
		"control":   {"u1", "a\x00b"},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ConversationID(ids)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestCursorOrder(t *testing.T) {
	req := require.New(t)
	req.True(Cursor{CreatedAt: 1, ID: 9}.Less(Cursor{CreatedAt: 2, ID: 1}))
	req.True(Cursor{CreatedAt: 2, ID: 1}.Less(Cursor{CreatedAt: 2, ID: 2}))
	req.False(Cursor{CreatedAt: 2, ID: 2}.Less(Cursor{CreatedAt: 2, ID: 2}))
}

func TestBodyEncoding(t *testing.T) {
	req := require.New(t)
	in := Body{Text: "hi", SenderName: "Ana", Attributes: map[string]any{"image": "a.png", "w": 3.0}}

	data, err := EncodeBody(in)
	req.NoError(err)
	out, err := DecodeBody(data)
	req.NoError(err)
	req.Equal(in, out)
}

func TestBodyEncodingRejectsUnsupportedAttributes(t *testing.T) {
	_, err := EncodeBody(Body{Text: "x", Attributes: map[string]any{"ch": make(chan int)}})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBodyValidate(t *testing.T) {
	req := require.New(t)
	req.ErrorIs(Body{}.Validate(), ErrInvalidArgument)
	req.ErrorIs(Body{Text: strings.Repeat("a", MaxTextLength+1)}.Validate(), ErrInvalidArgument)
	req.NoError(Body{Attributes: map[string]any{"image": "x"}}.Validate())
	req.Equal("Media message", Body{}.Preview(10))
	req.Equal("héll", Body{Text: "héllo"}.Preview(4))
}

func TestStoreErrorIsTransient(t *testing.T) {
	req := require.New(t)
	busy := &StoreError{Op: "append", Err: errors.New("database is locked"), Temporary: true}
	wrapped := fmt.Errorf("append message: %w", busy)

	req.True(IsRetryable(wrapped))
	req.ErrorIs(wrapped, ErrTransient)
	req.False(IsRetryable(&StoreError{Op: "append", Err: errors.New("disk full")}))
}
