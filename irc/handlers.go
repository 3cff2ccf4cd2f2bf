package irc

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/irc4go/ircd/irc/auth"
)

func handlePass(d *Dispatcher, s *Session, args []string, _ *Message) {
	if s.Registered() {
		d.numeric(s, ERR_ALREADYREGISTRED, ":You may not reregister")
		return
	}
	s.setPassword(args[0])
}

func handleNick(d *Dispatcher, s *Session, args []string, _ *Message) {
	if len(args) < 1 {
		d.numeric(s, ERR_NONICKNAMEGIVEN, ":No nickname given")
		return
	}
	nick := args[0]

	if old := s.Nickname(); old != "" {
		if old == nick {
			return
		}
		d.renameNick(s, old, nick)
		return
	}

	switch d.users.ClaimNickname(s, nick) {
	case ClaimInvalid:
		d.numeric(s, ERR_ERRONEUSNICKNAME, "%s :Erroneous nickname", nick)
	case ClaimInUse:
		d.numeric(s, ERR_NICKNAMEINUSE, "%s :Nickname is already in use", nick)
	case ClaimOK:
		d.tryCompleteRegistration(s)
	}
}

// renameNick performs the atomic rename and announces it once to every
// session sharing a channel with the renamed user, plus the user itself.
func (d *Dispatcher) renameNick(s *Session, old, nick string) {
	mask := s.FullMask()

	switch d.users.RenameNickname(old, nick) {
	case ClaimInvalid:
		d.numeric(s, ERR_ERRONEUSNICKNAME, "%s :Erroneous nickname", nick)
		return
	case ClaimInUse:
		d.numeric(s, ERR_NICKNAMEINUSE, "%s :Nickname is already in use", nick)
		return
	}

	line := fmt.Sprintf(":%s NICK :%s", mask, nick)
	notified := map[string]bool{nick: true}
	d.users.SendTo(s, line)

	for _, ch := range d.channels.RenameUser(old, nick, s.Channels()) {
		for _, member := range ch.Members() {
			if notified[member] {
				continue
			}
			notified[member] = true
			d.users.Send(member, line)
		}
	}
}

func handleUser(d *Dispatcher, s *Session, args []string, _ *Message) {
	if s.Registered() {
		d.numeric(s, ERR_ALREADYREGISTRED, ":You may not reregister")
		return
	}
	d.users.SetUsername(s, args[0], args[3])
	d.tryCompleteRegistration(s)
}

func handlePing(d *Dispatcher, s *Session, args []string, _ *Message) {
	d.users.SendTo(s, fmt.Sprintf(":%s PONG %s :%s", d.cfg.Server.Name, d.cfg.Server.Name, args[0]))
}

func handlePong(_ *Dispatcher, _ *Session, _ []string, _ *Message) {
	// Liveness already recorded by Dispatch.
}

func handleQuit(d *Dispatcher, s *Session, _ []string, msg *Message) {
	reason := msg.Trailing
	if reason == "" {
		reason = "Client Quit"
	}
	d.teardown(s, reason)
}

func handleJoin(d *Dispatcher, s *Session, args []string, _ *Message) {
	names := strings.Split(args[0], ",")
	var keys []string
	if len(args) > 1 {
		keys = strings.Split(args[1], ",")
	}

	for i, name := range names {
		var key string
		if i < len(keys) {
			key = keys[i]
		}
		d.joinChannel(s, name, key)
	}
}

func (d *Dispatcher) joinChannel(s *Session, name, key string) {
	nick := s.Nickname()
	ch, res := d.channels.Join(name, nick, key, false)

	switch res {
	case JoinNoSuchChannel:
		d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", name)
		return
	case JoinTooMany:
		d.numeric(s, ERR_TOOMANYCHANNELS, "%s :You have joined too many channels", name)
		return
	case JoinBanned:
		d.numeric(s, ERR_BANNEDFROMCHAN, "%s :Cannot join channel (+b)", name)
		return
	case JoinInviteOnly:
		d.numeric(s, ERR_INVITEONLYCHAN, "%s :Cannot join channel (+i)", name)
		return
	case JoinFull:
		d.numeric(s, ERR_CHANNELISFULL, "%s :Cannot join channel (+l)", name)
		return
	case JoinBadKey:
		d.numeric(s, ERR_BADCHANNELKEY, "%s :Cannot join channel (+k)", name)
		return
	}

	s.trackChannel(ch.Name())
	d.channels.Broadcast(ch, fmt.Sprintf(":%s JOIN :%s", s.FullMask(), ch.Name()))
	d.sendTopic(s, ch)
	d.sendNames(s, ch)
}

func handlePart(d *Dispatcher, s *Session, args []string, msg *Message) {
	reason := msg.Trailing
	nick := s.Nickname()

	for _, name := range strings.Split(args[0], ",") {
		ch := d.channels.Get(name)
		if ch == nil {
			d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", name)
			continue
		}
		if !ch.HasMember(nick) {
			d.numeric(s, ERR_NOTONCHANNEL, "%s :You're not on that channel", name)
			continue
		}

		line := fmt.Sprintf(":%s PART %s", s.FullMask(), ch.Name())
		if reason != "" {
			line += " :" + reason
		}
		d.channels.Broadcast(ch, line)

		d.channels.Leave(ch.Name(), nick)
		s.forgetChannel(ch.Name())
	}
}

func handlePrivmsg(d *Dispatcher, s *Session, args []string, _ *Message) {
	d.relayMessage(s, "PRIVMSG", args[0], args[1], true)
}

// handleNotice relays like PRIVMSG but, per protocol, never generates
// error replies.
func handleNotice(d *Dispatcher, s *Session, args []string, _ *Message) {
	d.relayMessage(s, "NOTICE", args[0], args[1], false)
}

func (d *Dispatcher) relayMessage(s *Session, verb, target, text string, reportErrors bool) {
	line := fmt.Sprintf(":%s %s %s :%s", s.FullMask(), verb, target, text)
	nick := s.Nickname()

	if isChannelName(target) {
		ch := d.channels.Get(target)
		if ch == nil {
			if reportErrors {
				d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", target)
			}
			return
		}
		if !ch.HasMember(nick) || (ch.Moderated() && !d.channelPrivileged(s, ch)) {
			if reportErrors {
				d.numeric(s, ERR_CANNOTSENDTOCHAN, "%s :Cannot send to channel", target)
			}
			return
		}
		d.channels.Broadcast(ch, line, nick)
		return
	}

	if !d.users.Send(target, line) && reportErrors {
		d.numeric(s, ERR_NOSUCHNICK, "%s :No such nick/channel", target)
	}
}

func handleTopic(d *Dispatcher, s *Session, args []string, msg *Message) {
	ch := d.channels.Get(args[0])
	if ch == nil {
		d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", args[0])
		return
	}
	if !ch.HasMember(s.Nickname()) {
		d.numeric(s, ERR_NOTONCHANNEL, "%s :You're not on that channel", args[0])
		return
	}

	// Bare TOPIC queries; TOPIC with trailing sets, an empty trailing
	// clears.
	if !msg.HasTrailing && len(msg.Params) < 2 {
		d.sendTopic(s, ch)
		return
	}

	if ch.TopicProtected() && !d.channelPrivileged(s, ch) {
		d.numeric(s, ERR_CHANOPRIVSNEEDED, "%s :You're not channel operator", ch.Name())
		return
	}

	topic := msg.Trailing
	if !msg.HasTrailing && len(msg.Params) >= 2 {
		topic = msg.Params[1]
	}
	ch.SetTopic(topic, s.Nickname())
	d.channels.Broadcast(ch, fmt.Sprintf(":%s TOPIC %s :%s", s.FullMask(), ch.Name(), topic))
}

func handleNames(d *Dispatcher, s *Session, args []string, _ *Message) {
	for _, name := range strings.Split(args[0], ",") {
		ch := d.channels.Get(name)
		if ch == nil {
			d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", name)
			continue
		}
		d.sendNames(s, ch)
	}
}

func handleList(d *Dispatcher, s *Session, _ []string, _ *Message) {
	d.numeric(s, RPL_LISTSTART, "Channel :Users  Name")
	for _, ch := range d.channels.All() {
		if ch.Secret() && !ch.HasMember(s.Nickname()) {
			continue
		}
		d.numeric(s, RPL_LIST, "%s %d :%s", ch.Name(), ch.MemberCount(), ch.Topic())
	}
	d.numeric(s, RPL_LISTEND, ":End of /LIST")
}

func handleWho(d *Dispatcher, s *Session, args []string, _ *Message) {
	mask := args[0]

	if isChannelName(mask) {
		if ch := d.channels.Get(mask); ch != nil {
			for _, nick := range ch.Members() {
				member := d.users.GetByNickname(nick)
				if member == nil {
					continue
				}
				d.numeric(s, RPL_WHOREPLY, "%s %s %s %s %s H :0 %s",
					ch.Name(), member.Username(), member.Hostname(), d.cfg.Server.Name, nick, member.Realname())
			}
		}
	} else if target := d.users.GetByNickname(mask); target != nil {
		d.numeric(s, RPL_WHOREPLY, "* %s %s %s %s H :0 %s",
			target.Username(), target.Hostname(), d.cfg.Server.Name, target.Nickname(), target.Realname())
	}
	d.numeric(s, RPL_ENDOFWHO, "%s :End of /WHO list", mask)
}

func handleWhois(d *Dispatcher, s *Session, args []string, _ *Message) {
	nick := args[0]
	target := d.users.GetByNickname(nick)
	if target == nil {
		d.numeric(s, ERR_NOSUCHNICK, "%s :No such nick/channel", nick)
		return
	}

	d.numeric(s, RPL_WHOISUSER, "%s %s %s * :%s", nick, target.Username(), target.Hostname(), target.Realname())
	if joined := target.Channels(); len(joined) > 0 {
		d.numeric(s, RPL_WHOISCHANNELS, "%s :%s", nick, strings.Join(joined, " "))
	}
	d.numeric(s, RPL_WHOISSERVER, "%s %s :%s", nick, d.cfg.Server.Name, d.cfg.Server.Network)
	if target.Role().Covers(auth.RoleOperator) {
		d.numeric(s, RPL_WHOISOPERATOR, "%s :is an IRC operator", nick)
	}
	idle := int(time.Since(target.LastActivity()).Seconds())
	d.numeric(s, RPL_WHOISIDLE, "%s %d %d :seconds idle, signon time", nick, idle, target.ConnectedAt().Unix())
	d.numeric(s, RPL_ENDOFWHOIS, "%s :End of /WHOIS list", nick)
}

func handleMode(d *Dispatcher, s *Session, args []string, _ *Message) {
	target := args[0]

	if !isChannelName(target) {
		if target == s.Nickname() {
			d.numeric(s, RPL_UMODEIS, "+")
		} else {
			d.numeric(s, ERR_NOSUCHNICK, "%s :No such nick/channel", target)
		}
		return
	}

	ch := d.channels.Get(target)
	if ch == nil {
		d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", target)
		return
	}

	if len(args) == 1 {
		d.numeric(s, RPL_CHANNELMODEIS, "%s %s", ch.Name(), ch.ModeString())
		return
	}

	if !d.channelPrivileged(s, ch) {
		d.numeric(s, ERR_CHANOPRIVSNEEDED, "%s :You're not channel operator", ch.Name())
		return
	}

	d.applyChannelModes(s, ch, args[1], args[2:])
}

// applyChannelModes walks a "+ko-i key"-style mode string, applying each
// flag and announcing the ones that took effect.
func (d *Dispatcher) applyChannelModes(s *Session, ch *Channel, modes string, modeArgs []string) {
	adding := true
	argIndex := 0
	nextArg := func() (string, bool) {
		if argIndex >= len(modeArgs) {
			return "", false
		}
		arg := modeArgs[argIndex]
		argIndex++
		return arg, true
	}

	var applied strings.Builder
	var appliedArgs []string
	lastSign := rune(0)
	record := func(mode rune, arg string) {
		sign := '+'
		if !adding {
			sign = '-'
		}
		if sign != lastSign {
			applied.WriteRune(sign)
			lastSign = sign
		}
		applied.WriteRune(mode)
		if arg != "" {
			appliedArgs = append(appliedArgs, arg)
		}
	}

	for _, mode := range modes {
		switch mode {
		case '+':
			adding = true
		case '-':
			adding = false
		case ModeInviteOnly, ModeModerated, ModeSecret, ModePrivate, ModeTopicProtected:
			if ch.SetMode(mode, adding) {
				record(mode, "")
			}
		case ModeKey:
			if adding {
				key, ok := nextArg()
				if !ok {
					continue
				}
				ch.SetKey(key)
				record(mode, key)
			} else {
				ch.SetKey("")
				record(mode, "")
			}
		case ModeLimit:
			if adding {
				arg, ok := nextArg()
				if !ok {
					continue
				}
				limit := 0
				fmt.Sscanf(arg, "%d", &limit)
				if limit <= 0 {
					continue
				}
				ch.SetUserLimit(limit)
				record(mode, arg)
			} else {
				ch.SetUserLimit(0)
				record(mode, "")
			}
		case 'o':
			nick, ok := nextArg()
			if !ok {
				continue
			}
			if ch.SetOperator(nick, adding) {
				record(mode, nick)
			}
		case 'b':
			nick, ok := nextArg()
			if !ok {
				continue
			}
			ch.SetBan(nick, adding)
			record(mode, nick)
		}
	}

	if applied.Len() == 0 {
		return
	}
	line := fmt.Sprintf(":%s MODE %s %s", s.FullMask(), ch.Name(), applied.String())
	if len(appliedArgs) > 0 {
		line += " " + strings.Join(appliedArgs, " ")
	}
	d.channels.Broadcast(ch, line)
}

func handleKick(d *Dispatcher, s *Session, args []string, msg *Message) {
	name, target := args[0], args[1]

	ch := d.channels.Get(name)
	if ch == nil {
		d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", name)
		return
	}
	if !ch.HasMember(s.Nickname()) {
		d.numeric(s, ERR_NOTONCHANNEL, "%s :You're not on that channel", name)
		return
	}
	if !d.channelPrivileged(s, ch) {
		d.numeric(s, ERR_CHANOPRIVSNEEDED, "%s :You're not channel operator", name)
		return
	}
	if !ch.HasMember(target) {
		d.numeric(s, ERR_USERNOTINCHANNEL, "%s %s :They aren't on that channel", target, name)
		return
	}

	reason := msg.Trailing
	if reason == "" {
		reason = s.Nickname()
	}
	d.channels.Broadcast(ch, fmt.Sprintf(":%s KICK %s %s :%s", s.FullMask(), ch.Name(), target, reason))

	d.channels.Kick(ch.Name(), target)
	if victim := d.users.GetByNickname(target); victim != nil {
		victim.forgetChannel(ch.Name())
	}
}

func handleInvite(d *Dispatcher, s *Session, args []string, _ *Message) {
	targetNick, name := args[0], args[1]

	ch := d.channels.Get(name)
	if ch == nil {
		d.numeric(s, ERR_NOSUCHCHANNEL, "%s :No such channel", name)
		return
	}
	if !ch.HasMember(s.Nickname()) {
		d.numeric(s, ERR_NOTONCHANNEL, "%s :You're not on that channel", name)
		return
	}
	if ch.InviteOnly() && !d.channelPrivileged(s, ch) {
		d.numeric(s, ERR_CHANOPRIVSNEEDED, "%s :You're not channel operator", name)
		return
	}

	target := d.users.GetByNickname(targetNick)
	if target == nil {
		d.numeric(s, ERR_NOSUCHNICK, "%s :No such nick/channel", targetNick)
		return
	}
	if ch.HasMember(targetNick) {
		d.numeric(s, ERR_USERONCHANNEL, "%s %s :is already on channel", targetNick, name)
		return
	}

	ch.Invite(targetNick)
	d.numeric(s, RPL_INVITING, "%s %s", targetNick, name)
	d.users.SendTo(target, fmt.Sprintf(":%s INVITE %s :%s", s.FullMask(), targetNick, name))
}

// handleOper elevates the session's server-wide role after verifying the
// named account's credentials.
func handleOper(d *Dispatcher, s *Session, args []string, _ *Message) {
	account, password := args[0], args[1]

	if !d.accounts.Authenticate(account, password) {
		d.numeric(s, ERR_PASSWDMISMATCH, ":Password incorrect")
		return
	}
	role := d.accounts.Role(account)
	if !role.Covers(auth.RoleOperator) {
		d.numeric(s, ERR_NOOPERHOST, ":No O-lines for your host")
		return
	}

	s.SetRole(role)
	d.numeric(s, RPL_YOUREOPER, ":You are now an IRC operator")
	log.Printf("[%s] %s became %s via OPER", s.Hostname(), s.Nickname(), role)
}

func handleKill(d *Dispatcher, s *Session, args []string, msg *Message) {
	nick := args[0]
	if nick == d.cfg.Server.Name {
		d.numeric(s, ERR_CANTKILLSERVER, ":You can't kill a server!")
		return
	}

	target := d.users.GetByNickname(nick)
	if target == nil {
		d.numeric(s, ERR_NOSUCHNICK, "%s :No such nick/channel", nick)
		return
	}

	reason := msg.Trailing
	if reason == "" && len(args) > 1 {
		reason = args[1]
	}
	target.Send(fmt.Sprintf("ERROR :Killed by %s: %s", s.Nickname(), reason))
	d.teardown(target, fmt.Sprintf("Killed (%s (%s))", s.Nickname(), reason))
}

func handleWallops(d *Dispatcher, s *Session, args []string, _ *Message) {
	d.users.BroadcastToRole(fmt.Sprintf(":%s WALLOPS :%s", s.FullMask(), args[0]), auth.RoleOperator)
}

func handleMotd(d *Dispatcher, s *Session, _ []string, _ *Message) {
	d.sendMotd(s)
}

func handleVersion(d *Dispatcher, s *Session, _ []string, _ *Message) {
	d.numeric(s, RPL_VERSION, "%s. %s :%s", d.cfg.Server.Version, d.cfg.Server.Name, d.cfg.Server.Network)
}
