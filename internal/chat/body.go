package chat

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxTextLength bounds Body.Text in runes.
const MaxTextLength = 4096

// Body is the opaque message payload: text plus optional sender display
// metadata and free-form attributes.
type Body struct {
	Text       string         `json:"text"`
	SenderName string         `json:"sender_name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate rejects empty bodies and text longer than MaxTextLength.
func (b Body) Validate() error {
	return b.ValidateLength(MaxTextLength)
}

// ValidateLength is Validate with a caller-chosen text limit.
func (b Body) ValidateLength(maxText int) error {
	if b.Text == "" && len(b.Attributes) == 0 {
		return fmt.Errorf("%w: message body is empty", ErrInvalidArgument)
	}
	if n := utf8.RuneCountInString(b.Text); n > maxText {
		return fmt.Errorf("%w: message text has %d characters, max %d", ErrInvalidArgument, n, maxText)
	}
	return nil
}

// Preview returns the text shown in conversation lists.
func (b Body) Preview(maxLen int) string {
	text := b.Text
	if text == "" {
		text = "Media message"
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	return string([]rune(text)[:maxLen])
}

// EncodeBody serializes a body as a protobuf Struct.
func EncodeBody(b Body) ([]byte, error) {
	fields := map[string]any{"text": b.Text}
	if b.SenderName != "" {
		fields["sender_name"] = b.SenderName
	}
	if len(b.Attributes) > 0 {
		fields["attributes"] = b.Attributes
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: body attributes: %v", ErrInvalidArgument, err)
	}
	return proto.Marshal(s)
}

// DecodeBody is the inverse of EncodeBody.
func DecodeBody(data []byte) (Body, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Body{}, fmt.Errorf("decode body: %w", err)
	}
	var b Body
	if v, ok := s.Fields["text"]; ok {
		b.Text = v.GetStringValue()
	}
	if v, ok := s.Fields["sender_name"]; ok {
		b.SenderName = v.GetStringValue()
	}
	if v, ok := s.Fields["attributes"]; ok && v.GetStructValue() != nil {
		b.Attributes = v.GetStructValue().AsMap()
	}
	return b, nil
}
