package irc

import (
	"fmt"
	"strings"
)

// Message represents a single IRC protocol line in structured form.
// Trailing, when present, is the last logical argument and is the only
// argument that may contain spaces. HasTrailing distinguishes an absent
// trailing from an empty one: "TOPIC #chan :" clears a topic, "TOPIC #chan"
// queries it.
type Message struct {
	Prefix      string
	Command     string
	Params      []string
	Trailing    string
	HasTrailing bool
}

// ParseMessage parses a raw protocol line. Empty or whitespace-only lines
// parse to nil and are silently ignored by the dispatcher.
func ParseMessage(line string) *Message {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	msg := &Message{}
	rest := strings.TrimLeft(line, " ")

	// Optional :prefix token
	if rest[0] == ':' {
		parts := strings.SplitN(rest[1:], " ", 2)
		if len(parts) < 2 {
			return nil // prefix with no command
		}
		msg.Prefix = parts[0]
		rest = strings.TrimLeft(parts[1], " ")
		if rest == "" {
			return nil
		}
	}

	parts := strings.SplitN(rest, " ", 2)
	msg.Command = strings.ToUpper(parts[0])
	if len(parts) < 2 {
		return msg
	}

	rest = parts[1]
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			msg.Trailing = rest[1:]
			msg.HasTrailing = true
			break
		}
		parts = strings.SplitN(rest, " ", 2)
		msg.Params = append(msg.Params, parts[0])
		if len(parts) < 2 {
			break
		}
		rest = parts[1]
	}

	return msg
}

// String serializes the message back into a wire line, without the
// terminating CRLF. Empty prefix is omitted; an absent trailing is omitted
// while a present-but-empty one serializes as a bare colon. A final
// positional parameter that could not survive reparsing as a parameter
// (spaces, a leading colon, or empty) is emitted in trailing position, so
// the produced line always round-trips through ParseMessage.
func (m *Message) String() string {
	var sb strings.Builder

	if m.Prefix != "" {
		sb.WriteString(":")
		sb.WriteString(m.Prefix)
		sb.WriteString(" ")
	}

	sb.WriteString(m.Command)

	for i, param := range m.Params {
		sb.WriteString(" ")
		if i == len(m.Params)-1 && !m.HasTrailing && m.Trailing == "" && paramNeedsColon(param) {
			sb.WriteString(":")
		}
		sb.WriteString(param)
	}

	if m.HasTrailing || m.Trailing != "" {
		sb.WriteString(" :")
		sb.WriteString(m.Trailing)
	}

	return sb.String()
}

func paramNeedsColon(param string) bool {
	return param == "" || strings.HasPrefix(param, ":") || strings.ContainsRune(param, ' ')
}

// Args returns the positional parameters with the trailing argument, if any,
// appended as the last element.
func (m *Message) Args() []string {
	if !m.HasTrailing && m.Trailing == "" {
		return m.Params
	}
	args := make([]string, 0, len(m.Params)+1)
	args = append(args, m.Params...)
	return append(args, m.Trailing)
}

// ParseHostmask splits a nick!user@host mask into its parts.
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]

	return
}

// FormatHostmask formats a nick!user@host mask.
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}
