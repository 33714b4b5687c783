package chat

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// idSeparator joins sorted participant ids into a conversation id.
const idSeparator = "_"

// NormalizeParticipants trims, deduplicates and sorts participant ids.
// A conversation needs at least two distinct participants.
func NormalizeParticipants(ids []string) ([]string, error) {
	out := lo.Uniq(lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) }))
	for _, id := range out {
		if err := ValidateParticipantID(id); err != nil {
			return nil, err
		}
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%w: a conversation needs at least 2 distinct participants, got %d", ErrInvalidArgument, len(out))
	}
	slices.Sort(out)
	return out, nil
}

// ConversationID derives the deterministic id of the conversation between ids.
func ConversationID(ids []string) (string, error) {
	norm, err := NormalizeParticipants(ids)
	if err != nil {
		return "", err
	}
	return strings.Join(norm, idSeparator), nil
}

// ValidateParticipantID rejects ids that cannot appear in a conversation id.
func ValidateParticipantID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty participant id", ErrInvalidArgument)
	case strings.Contains(id, idSeparator):
		return fmt.Errorf("%w: participant id %q contains %q", ErrInvalidArgument, id, idSeparator)
	case strings.ContainsFunc(id, unicode.IsControl):
		return fmt.Errorf("%w: participant id %q contains control characters", ErrInvalidArgument, id)
	}
	return nil
}
