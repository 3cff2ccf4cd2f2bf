package irc

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// channelNameRE is the channel name grammar: a '#' or '&' sigil followed by
// at least one character, none of which may be whitespace or a comma.
var channelNameRE = regexp.MustCompile(`^[#&][^\s,]+$`)

// JoinResult is the outcome of a join attempt, checked in a fixed order so
// a banned user always learns about the ban before any other restriction.
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinBanned
	JoinInviteOnly
	JoinFull
	JoinBadKey
	JoinNoSuchChannel
	JoinTooMany
)

// Channel modes, rendered in this order by ModeString.
const (
	ModeInviteOnly     = 'i'
	ModeModerated      = 'm'
	ModeSecret         = 's'
	ModePrivate        = 'p'
	ModeTopicProtected = 't'
	ModeKey            = 'k'
	ModeLimit          = 'l'
)

// Channel is one chat room. Membership, operators, bans and invitations are
// guarded by the channel's own lock; operators is always a subset of
// members.
type Channel struct {
	mu sync.RWMutex

	name       string
	topic      string
	topicSetBy string
	topicSetAt time.Time
	key        string
	userLimit  int

	inviteOnly     bool
	moderated      bool
	secret         bool
	private        bool
	topicProtected bool

	members   map[string]bool
	operators map[string]bool
	banned    map[string]bool
	invited   map[string]bool

	createdAt time.Time
}

func newChannel(name string) *Channel {
	return &Channel{
		name:      name,
		members:   make(map[string]bool),
		operators: make(map[string]bool),
		banned:    make(map[string]bool),
		invited:   make(map[string]bool),
		createdAt: time.Now(),
	}
}

// Name returns the channel's name.
func (ch *Channel) Name() string { return ch.name }

// CreatedAt returns when the channel was created.
func (ch *Channel) CreatedAt() time.Time { return ch.createdAt }

// Topic returns the channel topic, empty when unset.
func (ch *Channel) Topic() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topic
}

// SetTopic replaces the channel topic, recording who set it and when.
func (ch *Channel) SetTopic(topic, setBy string) {
	ch.mu.Lock()
	ch.topic = topic
	ch.topicSetBy = setBy
	ch.topicSetAt = time.Now()
	ch.mu.Unlock()
}

// TopicWho returns who last set the topic and when, zero values when the
// topic has never been set.
func (ch *Channel) TopicWho() (string, time.Time) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topicSetBy, ch.topicSetAt
}

// Key returns the channel key, empty when the channel is keyless.
func (ch *Channel) Key() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.key
}

// SetKey sets or clears the channel key.
func (ch *Channel) SetKey(key string) {
	ch.mu.Lock()
	ch.key = key
	ch.mu.Unlock()
}

// UserLimit returns the member cap, 0 meaning unlimited.
func (ch *Channel) UserLimit() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.userLimit
}

// SetUserLimit sets the member cap; 0 or negative clears it.
func (ch *Channel) SetUserLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	ch.mu.Lock()
	ch.userLimit = limit
	ch.mu.Unlock()
}

// SetMode flips one of the boolean channel modes. Unknown modes are
// ignored; k and l go through SetKey and SetUserLimit.
func (ch *Channel) SetMode(mode rune, on bool) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch mode {
	case ModeInviteOnly:
		ch.inviteOnly = on
	case ModeModerated:
		ch.moderated = on
	case ModeSecret:
		ch.secret = on
	case ModePrivate:
		ch.private = on
	case ModeTopicProtected:
		ch.topicProtected = on
	default:
		return false
	}
	return true
}

// ModeString renders the active modes as "+..." in the fixed order
// i, m, s, p, t, k, l, with the key and limit appended as arguments.
func (ch *Channel) ModeString() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	var flags strings.Builder
	var args []string
	flags.WriteByte('+')
	if ch.inviteOnly {
		flags.WriteRune(ModeInviteOnly)
	}
	if ch.moderated {
		flags.WriteRune(ModeModerated)
	}
	if ch.secret {
		flags.WriteRune(ModeSecret)
	}
	if ch.private {
		flags.WriteRune(ModePrivate)
	}
	if ch.topicProtected {
		flags.WriteRune(ModeTopicProtected)
	}
	if ch.key != "" {
		flags.WriteRune(ModeKey)
		args = append(args, ch.key)
	}
	if ch.userLimit > 0 {
		flags.WriteRune(ModeLimit)
		args = append(args, strconv.Itoa(ch.userLimit))
	}

	out := flags.String()
	if len(args) > 0 {
		out += " " + strings.Join(args, " ")
	}
	return out
}

// Secret reports whether the channel is hidden from LIST.
func (ch *Channel) Secret() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.secret || ch.private
}

// InviteOnly reports whether joining requires a standing invitation.
func (ch *Channel) InviteOnly() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.inviteOnly
}

// Moderated reports whether only operators may speak.
func (ch *Channel) Moderated() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.moderated
}

// TopicProtected reports whether only operators may change the topic.
func (ch *Channel) TopicProtected() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topicProtected
}

// join runs the admission checks and admits the nickname in one critical
// section. Check order: ban, invite-only, limit, key. The first member of a
// fresh channel becomes its operator.
func (ch *Channel) join(nick, key string, bypass bool) JoinResult {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.members[nick] {
		return JoinOK
	}
	if !bypass {
		if ch.banned[nick] {
			return JoinBanned
		}
		if ch.inviteOnly && !ch.invited[nick] {
			return JoinInviteOnly
		}
		if ch.userLimit > 0 && len(ch.members) >= ch.userLimit {
			return JoinFull
		}
		if ch.key != "" && ch.key != key {
			return JoinBadKey
		}
	}

	ch.members[nick] = true
	delete(ch.invited, nick)
	if len(ch.members) == 1 {
		ch.operators[nick] = true
	}
	return JoinOK
}

// leave removes the nickname from membership and operators, reporting
// whether the channel is now empty.
func (ch *Channel) leave(nick string) (wasMember, empty bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.members[nick] {
		return false, false
	}
	delete(ch.members, nick)
	delete(ch.operators, nick)
	return true, len(ch.members) == 0
}

// HasMember reports whether the nickname is in the channel.
func (ch *Channel) HasMember(nick string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.members[nick]
}

// IsOperator reports whether the nickname holds channel operator status.
func (ch *Channel) IsOperator(nick string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.operators[nick]
}

// SetOperator grants or revokes channel operator status. Granting is
// refused for non-members so operators stay a subset of members.
func (ch *Channel) SetOperator(nick string, on bool) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if on {
		if !ch.members[nick] {
			return false
		}
		ch.operators[nick] = true
		return true
	}
	delete(ch.operators, nick)
	return true
}

// SetBan adds or removes a nickname ban. A ban takes effect on the next
// join attempt; it does not remove a present member.
func (ch *Channel) SetBan(nick string, on bool) {
	ch.mu.Lock()
	if on {
		ch.banned[nick] = true
	} else {
		delete(ch.banned, nick)
	}
	ch.mu.Unlock()
}

// IsBanned reports whether the nickname is banned from the channel.
func (ch *Channel) IsBanned(nick string) bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.banned[nick]
}

// Invite records a standing invitation, consumed by the next join.
func (ch *Channel) Invite(nick string) {
	ch.mu.Lock()
	ch.invited[nick] = true
	ch.mu.Unlock()
}

// Members returns a sorted snapshot of the member nicknames.
func (ch *Channel) Members() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]string, 0, len(ch.members))
	for nick := range ch.members {
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}

// Operators returns a sorted snapshot of the operator nicknames.
func (ch *Channel) Operators() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]string, 0, len(ch.operators))
	for nick := range ch.operators {
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}

// MemberCount returns the number of members.
func (ch *Channel) MemberCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// DecoratedMembers returns the sorted member list with operators prefixed
// by '@', the form NAMES replies use.
func (ch *Channel) DecoratedMembers() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]string, 0, len(ch.members))
	for nick := range ch.members {
		if ch.operators[nick] {
			out = append(out, "@"+nick)
		} else {
			out = append(out, nick)
		}
	}
	sort.Strings(out)
	return out
}

// rename moves a member's nickname in place, preserving operator status.
func (ch *Channel) rename(old, new string) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.members[old] {
		return false
	}
	delete(ch.members, old)
	ch.members[new] = true
	if ch.operators[old] {
		delete(ch.operators, old)
		ch.operators[new] = true
	}
	return true
}

// ChannelRegistry owns the name->channel mapping. Creation, emptiness
// detection and deletion happen under the registry lock so a channel can
// never be resurrected half-deleted.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	maxChannels          int
	maxChannelNameLength int

	users *UserRegistry
	stats *ServerStats
}

// NewChannelRegistry creates an empty channel registry that fans messages
// out through the given user registry.
func NewChannelRegistry(maxChannels, maxChannelNameLength int, users *UserRegistry, stats *ServerStats) *ChannelRegistry {
	return &ChannelRegistry{
		channels:             make(map[string]*Channel),
		maxChannels:          maxChannels,
		maxChannelNameLength: maxChannelNameLength,
		users:                users,
		stats:                stats,
	}
}

// ValidName reports whether a channel name matches the grammar and length
// limit.
func (r *ChannelRegistry) ValidName(name string) bool {
	return len(name) <= r.maxChannelNameLength && channelNameRE.MatchString(name)
}

// Get returns the named channel, nil when it does not exist.
func (r *ChannelRegistry) Get(name string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}

// All returns a snapshot of every channel, sorted by name.
func (r *ChannelRegistry) All() []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Count returns the number of channels.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Join admits a nickname to the named channel, creating the channel if
// absent. The creator of a fresh channel becomes its operator. bypass
// skips the admission checks for server operators.
func (r *ChannelRegistry) Join(name, nick, key string, bypass bool) (*Channel, JoinResult) {
	if !r.ValidName(name) {
		return nil, JoinNoSuchChannel
	}

	for {
		r.mu.Lock()
		ch, exists := r.channels[name]
		if !exists {
			if r.maxChannels > 0 && len(r.channels) >= r.maxChannels {
				r.mu.Unlock()
				return nil, JoinTooMany
			}
			ch = newChannel(name)
			r.channels[name] = ch
			r.stats.ChannelCreated()
		}
		r.mu.Unlock()

		res := ch.join(nick, key, bypass)
		if res != JoinOK {
			return ch, res
		}

		// The last member may have departed between the map lookup and the
		// admission, letting deleteIfEmpty drop this channel object from
		// the registry. Re-check identity under the registry lock; on a
		// mismatch back the admission out and redo against the current
		// mapping. Once the identity holds the channel cannot be deleted
		// out from under the new member: deletion requires emptiness.
		r.mu.Lock()
		current := r.channels[name]
		r.mu.Unlock()
		if current == ch {
			return ch, res
		}
		ch.leave(nick)
	}
}

// Leave removes a nickname from the named channel, deleting the channel
// when its last member departs.
func (r *ChannelRegistry) Leave(name, nick string) bool {
	ch := r.Get(name)
	if ch == nil {
		return false
	}
	wasMember, empty := ch.leave(nick)
	if empty {
		r.deleteIfEmpty(ch)
	}
	return wasMember
}

// Kick removes the target from the channel on an operator's behalf. The
// departure announcement is the caller's job.
func (r *ChannelRegistry) Kick(name, target string) bool {
	return r.Leave(name, target)
}

// ForgetUser removes a departing session from every channel it had joined,
// returning the set of channels it actually left. Used by teardown so the
// QUIT fan-out can dedupe recipients across shared channels.
func (r *ChannelRegistry) ForgetUser(nick string, joined []string) []*Channel {
	var left []*Channel
	for _, name := range joined {
		ch := r.Get(name)
		if ch == nil {
			continue
		}
		wasMember, empty := ch.leave(nick)
		if wasMember {
			left = append(left, ch)
		}
		if empty {
			r.deleteIfEmpty(ch)
		}
	}
	return left
}

// RenameUser moves a nickname across every channel it is in, returning the
// channels affected so the caller can announce the rename.
func (r *ChannelRegistry) RenameUser(old, new string, joined []string) []*Channel {
	var renamed []*Channel
	for _, name := range joined {
		ch := r.Get(name)
		if ch == nil {
			continue
		}
		if ch.rename(old, new) {
			renamed = append(renamed, ch)
		}
	}
	return renamed
}

// Delete removes a channel outright, returning its final member list so
// the caller can notify the evicted members. Admin-only path.
func (r *ChannelRegistry) Delete(name string) ([]string, bool) {
	r.mu.Lock()
	ch, exists := r.channels[name]
	if exists {
		delete(r.channels, name)
		r.stats.ChannelDeleted()
	}
	r.mu.Unlock()

	if !exists {
		return nil, false
	}
	return ch.Members(), true
}

// deleteIfEmpty drops the channel if it is still empty, re-checked under
// the registry lock so a concurrent join wins over deletion.
func (r *ChannelRegistry) deleteIfEmpty(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[ch.name] != ch {
		return
	}
	ch.mu.RLock()
	empty := len(ch.members) == 0
	ch.mu.RUnlock()
	if empty {
		delete(r.channels, ch.name)
		r.stats.ChannelDeleted()
	}
}

// Broadcast delivers a line to every member of the channel except the
// nicknames in exclude. The member list is snapshotted first so delivery
// never holds the channel lock.
func (r *ChannelRegistry) Broadcast(ch *Channel, line string, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, nick := range exclude {
		skip[nick] = true
	}
	for _, nick := range ch.Members() {
		if skip[nick] {
			continue
		}
		r.users.Send(nick, line)
	}
}
