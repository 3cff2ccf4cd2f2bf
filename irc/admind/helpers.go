package admind

import (
	"time"

	"github.com/irc4go/ircd/irc"
)

// UserView is the admin-facing projection of a connected session.
type UserView struct {
	ID            string    `json:"id"`
	Nickname      string    `json:"nickname"`
	Username      string    `json:"username"`
	Realname      string    `json:"realname"`
	Hostname      string    `json:"hostname"`
	Role          string    `json:"role"`
	Registered    bool      `json:"registered"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	Channels      []string  `json:"channels"`
}

func userView(s *irc.Session) UserView {
	return UserView{
		ID:            s.ID(),
		Nickname:      s.Nickname(),
		Username:      s.Username(),
		Realname:      s.Realname(),
		Hostname:      s.Hostname(),
		Role:          s.Role().String(),
		Registered:    s.Registered(),
		Authenticated: s.Authenticated(),
		ConnectedAt:   s.ConnectedAt(),
		LastActivity:  s.LastActivity(),
		Channels:      s.Channels(),
	}
}

// ChannelView is the admin-facing projection of a channel.
type ChannelView struct {
	Name        string    `json:"name"`
	Topic       string    `json:"topic"`
	Modes       string    `json:"modes"`
	MemberCount int       `json:"member_count"`
	Members     []string  `json:"members"`
	Operators   []string  `json:"operators"`
	CreatedAt   time.Time `json:"created_at"`
}

func channelView(ch *irc.Channel) ChannelView {
	return ChannelView{
		Name:        ch.Name(),
		Topic:       ch.Topic(),
		Modes:       ch.ModeString(),
		MemberCount: ch.MemberCount(),
		Members:     ch.Members(),
		Operators:   ch.Operators(),
		CreatedAt:   ch.CreatedAt(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	Status string `json:"status"`
}

var statusOK = okResponse{Status: "ok"}
