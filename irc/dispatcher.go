package irc

import (
	"fmt"
	"log"
	"strings"

	"github.com/irc4go/ircd/irc/auth"
	"github.com/irc4go/ircd/irc/config"
)

// requirement is the state a session must be in before a handler runs.
type requirement int

const (
	// needsNothing: runs in any state (PASS, NICK, USER, PING, QUIT).
	needsNothing requirement = iota
	// needsChannelAccess: registered, or nickname-only when the server
	// permits unregistered channel use.
	needsChannelAccess
	// needsRegistration: full registration only.
	needsRegistration
)

type handlerFunc func(d *Dispatcher, s *Session, args []string, msg *Message)

type command struct {
	handler   handlerFunc
	minParams int
	requires  requirement
	minRole   auth.Role
}

// Dispatcher maps structured messages to handlers and drives the per-session
// registration state machine. One Dispatch call runs at a time per session
// because each connection's read loop dispatches synchronously.
type Dispatcher struct {
	cfg      *config.Config
	users    *UserRegistry
	channels *ChannelRegistry
	accounts *auth.Store
	stats    *ServerStats

	// teardown is the server's session teardown unit, shared with QUIT,
	// the idle sweep and admin kicks.
	teardown func(*Session, string)

	table map[string]command
}

// NewDispatcher builds the command table over the given registries.
func NewDispatcher(cfg *config.Config, users *UserRegistry, channels *ChannelRegistry, accounts *auth.Store, stats *ServerStats) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		users:    users,
		channels: channels,
		accounts: accounts,
		stats:    stats,
	}
	d.table = map[string]command{
		"PASS":    {handler: handlePass, minParams: 1},
		"NICK":    {handler: handleNick},
		"USER":    {handler: handleUser, minParams: 4},
		"PING":    {handler: handlePing, minParams: 1},
		"PONG":    {handler: handlePong},
		"QUIT":    {handler: handleQuit},
		"JOIN":    {handler: handleJoin, minParams: 1, requires: needsChannelAccess},
		"PART":    {handler: handlePart, minParams: 1, requires: needsChannelAccess},
		"PRIVMSG": {handler: handlePrivmsg, minParams: 2, requires: needsChannelAccess},
		"NOTICE":  {handler: handleNotice, minParams: 2, requires: needsChannelAccess},
		"TOPIC":   {handler: handleTopic, minParams: 1, requires: needsChannelAccess},
		"NAMES":   {handler: handleNames, minParams: 1, requires: needsChannelAccess},
		"LIST":    {handler: handleList, requires: needsChannelAccess},
		"WHO":     {handler: handleWho, minParams: 1, requires: needsChannelAccess},
		"WHOIS":   {handler: handleWhois, minParams: 1, requires: needsChannelAccess},
		"MODE":    {handler: handleMode, minParams: 1, requires: needsChannelAccess},
		"KICK":    {handler: handleKick, minParams: 2, requires: needsChannelAccess},
		"INVITE":  {handler: handleInvite, minParams: 2, requires: needsChannelAccess},
		"OPER":    {handler: handleOper, minParams: 2},
		"KILL":    {handler: handleKill, minParams: 2, requires: needsRegistration, minRole: auth.RoleOperator},
		"WALLOPS": {handler: handleWallops, minParams: 1, requires: needsRegistration, minRole: auth.RoleOperator},
		"MOTD":    {handler: handleMotd, requires: needsRegistration},
		"VERSION": {handler: handleVersion},
	}
	return d
}

// SetTeardown wires the server's teardown unit. Must be called before the
// first Dispatch.
func (d *Dispatcher) SetTeardown(fn func(*Session, string)) {
	d.teardown = fn
}

// Dispatch routes one inbound message. A handler panic is contained here:
// logged, answered with a generic error to the offending session only.
func (d *Dispatcher) Dispatch(s *Session, msg *Message) {
	if msg == nil {
		return
	}
	d.stats.MessageReceived()
	s.Touch()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] Handler panic on %s: %v", s.Hostname(), msg.Command, r)
			s.Send("ERROR :Internal server error")
		}
	}()

	cmd, known := d.table[msg.Command]
	if !known {
		d.numeric(s, ERR_UNKNOWNCOMMAND, "%s :Unknown command", msg.Command)
		return
	}

	args := msg.Args()
	if len(args) < cmd.minParams {
		d.numeric(s, ERR_NEEDMOREPARAMS, "%s :Not enough parameters", msg.Command)
		return
	}

	switch cmd.requires {
	case needsChannelAccess:
		if !d.canUseChannels(s) {
			d.numeric(s, ERR_NOTREGISTERED, ":You have not registered")
			return
		}
	case needsRegistration:
		if !s.Registered() {
			d.numeric(s, ERR_NOTREGISTERED, ":You have not registered")
			return
		}
	}

	if cmd.minRole > auth.RoleUser && !s.Role().Covers(cmd.minRole) {
		d.numeric(s, ERR_NOPRIVILEGES, ":Permission Denied- You're not an IRC operator")
		return
	}

	cmd.handler(d, s, args, msg)
}

// numeric sends a numeric reply in the canonical
// ":server NNN nick text" shape, with "*" standing in before a nickname
// exists.
func (d *Dispatcher) numeric(s *Session, code int, format string, a ...interface{}) {
	nick := s.Nickname()
	if nick == "" {
		nick = "*"
	}
	text := fmt.Sprintf(format, a...)
	d.users.SendTo(s, fmt.Sprintf(":%s %03d %s %s", d.cfg.Server.Name, code, nick, text))
}

// canUseChannels reports whether a session may perform channel operations:
// fully registered, or nickname-only when the configuration allows it.
func (d *Dispatcher) canUseChannels(s *Session) bool {
	if s.Registered() {
		return true
	}
	return d.cfg.Auth.AllowUnregisteredChannels && s.Nickname() != ""
}

// tryCompleteRegistration moves the session to registered once nickname and
// username are both present and, when required, credentials verify. The
// greeting block is emitted exactly once regardless of how the session got
// here.
func (d *Dispatcher) tryCompleteRegistration(s *Session) {
	if s.Registered() {
		return
	}
	nick, user := s.Nickname(), s.Username()
	if nick == "" {
		return
	}

	if user == "" {
		// Nickname-only session. Channel access may already be allowed;
		// whether it is greeted early is a configuration choice.
		if d.cfg.Auth.AllowUnregisteredChannels && d.cfg.Auth.GreetPartial {
			d.greet(s)
		}
		return
	}

	authenticated := false
	if d.accounts.Exists(user) && s.storedPassword() != "" {
		authenticated = d.accounts.Authenticate(user, s.storedPassword())
	}
	if d.cfg.Auth.RequireAuthentication && !authenticated {
		d.numeric(s, ERR_PASSWDMISMATCH, ":Password incorrect")
		return
	}

	s.setRegistered(authenticated)
	if authenticated {
		s.SetRole(d.accounts.Role(user))
	}
	d.stats.ClientRegistered()
	log.Printf("[%s] Registered as %s", s.Hostname(), nick)
	d.greet(s)
}

// greet emits the welcome block and MOTD. One-shot per session.
func (d *Dispatcher) greet(s *Session) {
	if !s.markGreeted() {
		return
	}
	srv := d.cfg.Server
	d.numeric(s, RPL_WELCOME, ":Welcome to the %s Network, %s", srv.Network, s.FullMask())
	d.numeric(s, RPL_YOURHOST, ":Your host is %s, running version %s", srv.Name, srv.Version)
	d.numeric(s, RPL_CREATED, ":This server was created %s", d.stats.StartedAt().Format("Mon Jan 2 2006 at 15:04:05 MST"))
	d.numeric(s, RPL_MYINFO, "%s %s o imsptkl", srv.Name, srv.Version)
	d.sendMotd(s)
}

// sendMotd emits the 375/372/376 MOTD block.
func (d *Dispatcher) sendMotd(s *Session) {
	srv := d.cfg.Server
	d.numeric(s, RPL_MOTDSTART, ":- %s Message of the day -", srv.Name)
	for _, line := range strings.Split(srv.MOTD, "\n") {
		d.numeric(s, RPL_MOTD, ":- %s", line)
	}
	d.numeric(s, RPL_ENDOFMOTD, ":End of /MOTD command")
}

// sendNames emits the 353/366 name list with operators marked '@'.
func (d *Dispatcher) sendNames(s *Session, ch *Channel) {
	d.numeric(s, RPL_NAMREPLY, "= %s :%s", ch.Name(), strings.Join(ch.DecoratedMembers(), " "))
	d.numeric(s, RPL_ENDOFNAMES, "%s :End of /NAMES list", ch.Name())
}

// sendTopic emits the 332/331 topic reply.
func (d *Dispatcher) sendTopic(s *Session, ch *Channel) {
	if topic := ch.Topic(); topic != "" {
		d.numeric(s, RPL_TOPIC, "%s :%s", ch.Name(), topic)
		if setBy, setAt := ch.TopicWho(); setBy != "" {
			d.numeric(s, RPL_TOPICWHOTIME, "%s %s %d", ch.Name(), setBy, setAt.Unix())
		}
	} else {
		d.numeric(s, RPL_NOTOPIC, "%s :No topic is set", ch.Name())
	}
}

// isChannelName reports whether a message target names a channel.
func isChannelName(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}

// channelPrivileged reports whether the session may perform operator
// actions on the channel: channel operator status or a server role at
// OPERATOR or above.
func (d *Dispatcher) channelPrivileged(s *Session, ch *Channel) bool {
	return ch.IsOperator(s.Nickname()) || s.Role().Covers(auth.RoleOperator)
}
