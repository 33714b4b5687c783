package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTruncateReasonKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "short", truncateReason("short"))

	ascii := strings.Repeat("a", maxCloseReason+10)
	require.Equal(t, ascii[:maxCloseReason], truncateReason(ascii))

	// 122 ASCII bytes then a 3-byte rune straddling the limit.
	mixed := strings.Repeat("a", maxCloseReason-1) + "€€"
	got := truncateReason(mixed)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", maxCloseReason-1), got)

	multi := strings.Repeat("é", 100)
	got = truncateReason(multi)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), maxCloseReason)
	require.Equal(t, strings.Repeat("é", maxCloseReason/2), got)
}
