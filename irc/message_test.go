package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *Message
	}{
		{
			name: "bare command",
			line: "LIST",
			want: &Message{Command: "LIST"},
		},
		{
			name: "command is uppercased",
			line: "privmsg #go :hello",
			want: &Message{Command: "PRIVMSG", Params: []string{"#go"}, Trailing: "hello", HasTrailing: true},
		},
		{
			name: "prefix and trailing with spaces",
			line: ":alice!alice@localhost PRIVMSG #go :hello there world",
			want: &Message{Prefix: "alice!alice@localhost", Command: "PRIVMSG", Params: []string{"#go"}, Trailing: "hello there world", HasTrailing: true},
		},
		{
			name: "multiple params",
			line: "USER alice 0 * :Alice A",
			want: &Message{Command: "USER", Params: []string{"alice", "0", "*"}, Trailing: "Alice A", HasTrailing: true},
		},
		{
			name: "empty trailing is present, not absent",
			line: "TOPIC #go :",
			want: &Message{Command: "TOPIC", Params: []string{"#go"}, HasTrailing: true},
		},
		{
			name: "trailing CRLF stripped",
			line: "PING token\r\n",
			want: &Message{Command: "PING", Params: []string{"token"}},
		},
		{
			name: "colon inside trailing is preserved",
			line: "TOPIC #go :see: https://example.com",
			want: &Message{Command: "TOPIC", Params: []string{"#go"}, Trailing: "see: https://example.com", HasTrailing: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMessage(tt.line)
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Prefix, got.Prefix)
			assert.Equal(t, tt.want.Command, got.Command)
			assert.Equal(t, tt.want.Params, got.Params)
			assert.Equal(t, tt.want.Trailing, got.Trailing)
			assert.Equal(t, tt.want.HasTrailing, got.HasTrailing)
		})
	}
}

func TestParseMessageIgnoresBlankLines(t *testing.T) {
	assert.Nil(t, ParseMessage(""))
	assert.Nil(t, ParseMessage("   "))
	assert.Nil(t, ParseMessage("\r\n"))
	assert.Nil(t, ParseMessage(":prefixonly"))
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []*Message{
		{Command: "QUIT"},
		{Command: "NICK", Params: []string{"alice"}},
		{Prefix: "ircd.local", Command: "001", Params: []string{"alice"}, Trailing: "Welcome to the network", HasTrailing: true},
		{Prefix: "alice!alice@localhost", Command: "KICK", Params: []string{"#go", "bob"}, Trailing: "spam", HasTrailing: true},
		{Command: "TOPIC", Params: []string{"#go"}, HasTrailing: true},
	}

	for _, m := range msgs {
		got := ParseMessage(m.String())
		require.NotNil(t, got, "round-trip of %q", m.String())
		assert.Equal(t, m, got, "round-trip of %q", m.String())
	}
}

func TestStringProtectsSpacedLastParam(t *testing.T) {
	m := &Message{Command: "PRIVMSG", Params: []string{"#go", "hello world"}}
	assert.Equal(t, "PRIVMSG #go :hello world", m.String())

	// The protected form parses back to an equivalent message: the spaced
	// parameter moves into Trailing, and serializing again is stable.
	got := ParseMessage(m.String())
	require.NotNil(t, got)
	assert.Equal(t, []string{"#go", "hello world"}, got.Args())
	assert.Equal(t, m.String(), got.String())

	// An explicit trailing keeps positional params untouched.
	m = &Message{Command: "KICK", Params: []string{"#go", "bob"}, Trailing: "spam", HasTrailing: true}
	assert.Equal(t, "KICK #go bob :spam", m.String())
}

func TestMessageArgs(t *testing.T) {
	m := ParseMessage("KICK #go bob :flooding the channel")
	require.NotNil(t, m)
	assert.Equal(t, []string{"#go", "bob", "flooding the channel"}, m.Args())

	m = ParseMessage("JOIN #go")
	require.NotNil(t, m)
	assert.Equal(t, []string{"#go"}, m.Args())

	m = ParseMessage("TOPIC #go :")
	require.NotNil(t, m)
	assert.Equal(t, []string{"#go", ""}, m.Args())
}

func TestHostmask(t *testing.T) {
	nick, user, host := ParseHostmask("alice!alice@localhost")
	assert.Equal(t, "alice", nick)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "localhost", host)

	nick, user, host = ParseHostmask("alice")
	assert.Equal(t, "alice", nick)
	assert.Empty(t, user)
	assert.Empty(t, host)

	assert.Equal(t, "alice!alice@localhost", FormatHostmask("alice", "alice", "localhost"))
}
