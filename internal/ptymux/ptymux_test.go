package ptymux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Stripping is idempotent and is the identity on sequence-free input.
func TestAnsiStripIdempotent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text, no escapes", "plain text, no escapes"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b[2J\x1b[Hcleared", "cleared"},
		{"\x1b[?25lhidden cursor\x1b[?25h", "hidden cursor"},
		{"\x1b(Bline\x1b[K drawing", "line drawing"},
		{"login: \x1b[1m", "login: "},
	}

	for _, c := range cases {
		once := string(ansiRe.ReplaceAll([]byte(c.in), nil))
		require.Equal(t, c.want, once)

		twice := string(ansiRe.ReplaceAll([]byte(once), nil))
		require.Equal(t, once, twice)
	}
}

func TestAppendCappedTruncatesFromHead(t *testing.T) {
	buf := []byte(strings.Repeat("a", bufferCap-10))
	buf = appendCapped(buf, []byte(strings.Repeat("b", 30)))

	require.Len(t, buf, bufferCap)
	// The newest bytes survive; the oldest are dropped.
	require.Equal(t, strings.Repeat("b", 30), string(buf[len(buf)-30:]))
	require.Equal(t, byte('a'), buf[0])
}

func TestAppendCappedSmall(t *testing.T) {
	buf := appendCapped(nil, []byte("hello"))
	require.Equal(t, "hello", string(buf))
}

func TestSubscribeUnknownZone(t *testing.T) {
	m := New(nil)
	_, err := m.Subscribe("ghost", func([]byte) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no pty session")
}

func TestWriteUnknownZone(t *testing.T) {
	m := New(nil)
	require.Error(t, m.Write("ghost", []byte("x")))
	require.Error(t, m.ClearBuffer("ghost"))
	require.Error(t, m.SetAutomationActive("ghost", true))
}

func TestStrippedSnapshotUnknownZone(t *testing.T) {
	m := New(nil)
	_, ok := m.StrippedSnapshot("ghost")
	require.False(t, ok)
}

func TestShellQuoteZone(t *testing.T) {
	require.Equal(t, "'web01'", shellQuoteZone("web01"))
	require.Equal(t, `'it'\''s'`, shellQuoteZone("it's"))
}
