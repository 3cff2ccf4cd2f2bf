package irc

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/irc4go/ircd/irc/auth"
	"github.com/irc4go/ircd/irc/config"
)

// sweepInterval is how often the idle sweep looks for dead sessions.
const sweepInterval = 30 * time.Second

// Server owns the listening socket and the shared registries. Each accepted
// connection gets one goroutine running a blocking read loop that dispatches
// synchronously, so lines on one connection are always handled in arrival
// order.
type Server struct {
	cfg        *config.Config
	accounts   *auth.Store
	stats      *ServerStats
	users      *UserRegistry
	channels   *ChannelRegistry
	dispatcher *Dispatcher

	listener net.Listener
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewServer wires the registries, dispatcher and credential store together.
func NewServer(cfg *config.Config, accounts *auth.Store) *Server {
	stats := NewServerStats()
	users := NewUserRegistry(cfg.Limits.MaxNicknameLength, stats)
	channels := NewChannelRegistry(cfg.Limits.MaxChannels, cfg.Limits.MaxChannelNameLength, users, stats)
	dispatcher := NewDispatcher(cfg, users, channels, accounts, stats)

	srv := &Server{
		cfg:        cfg,
		accounts:   accounts,
		stats:      stats,
		users:      users,
		channels:   channels,
		dispatcher: dispatcher,
		shutdown:   make(chan struct{}),
	}
	dispatcher.SetTeardown(srv.teardownSession)
	users.SetEvictHandler(srv.teardownSession)
	return srv
}

// Addr returns the listener address, nil before Start.
func (srv *Server) Addr() net.Addr {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Users returns the user registry, consumed by the admin surface.
func (srv *Server) Users() *UserRegistry { return srv.users }

// Channels returns the channel registry, consumed by the admin surface.
func (srv *Server) Channels() *ChannelRegistry { return srv.channels }

// Accounts returns the credential store, consumed by the admin surface.
func (srv *Server) Accounts() *auth.Store { return srv.accounts }

// Stats returns the server counters.
func (srv *Server) Stats() *ServerStats { return srv.stats }

// Start opens the listening socket and launches the accept loop and the
// idle sweep.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.cfg.ListenAddress(), err)
	}
	srv.listener = ln
	log.Printf("IRC server %s listening on %s", srv.cfg.Server.Name, ln.Addr())

	go srv.acceptLoop()
	go srv.sweepLoop()
	return nil
}

func (srv *Server) acceptLoop() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.shutdown:
				return
			default:
				log.Printf("Accept failed: %v", err)
				continue
			}
		}

		if srv.users.Count() >= srv.cfg.Limits.MaxConnections {
			conn.Write([]byte("ERROR :Server is full\r\n"))
			conn.Close()
			log.Printf("[%s] Rejected, server full", conn.RemoteAddr())
			continue
		}

		srv.stats.ConnectionOpened()
		s := srv.users.BeginSession(conn)
		log.Printf("[%s] Connected", s.Hostname())
		go srv.serveConn(s)
	}
}

// serveConn is the per-connection read loop. It exits on read error,
// end-of-stream, or teardown closing the socket underneath it; either way
// the session ends up in the same teardown unit.
func (srv *Server) serveConn(s *Session) {
	defer srv.teardownSession(s, "Connection closed")

	reader := textproto.NewReader(bufio.NewReader(s.conn))
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return
		}
		srv.dispatcher.Dispatch(s, ParseMessage(line))
	}
}

// teardownSession is the single teardown unit shared by QUIT, read-loop
// exit, idle sweep, KILL, admin kick and shutdown: broadcast the quit to
// the session's channels, detach it from both registries, close the
// socket. Runs at most once per session.
func (srv *Server) teardownSession(s *Session, reason string) {
	if !s.beginTeardown() {
		return
	}

	nick := s.Nickname()
	if nick != "" {
		line := fmt.Sprintf(":%s QUIT :%s", s.FullMask(), reason)
		notified := map[string]bool{nick: true}
		for _, ch := range srv.channels.ForgetUser(nick, s.Channels()) {
			for _, member := range ch.Members() {
				if notified[member] {
					continue
				}
				notified[member] = true
				srv.users.Send(member, line)
			}
		}
	}

	srv.users.RemoveSession(s)
	srv.stats.ConnectionClosed()
	log.Printf("[%s] Disconnected: %s", s.Hostname(), reason)
}

// sweepLoop evicts sessions that have shown no activity within the
// configured timeout. A swept session goes through the same teardown unit
// as a client-initiated QUIT.
func (srv *Server) sweepLoop() {
	timeout := srv.cfg.SessionTimeout()
	if timeout <= 0 {
		return
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-srv.shutdown:
			return
		case <-ticker.C:
			for _, s := range srv.users.Idle(timeout) {
				s.Send("ERROR :Closing Link: Ping timeout")
				srv.stats.SessionTimedOut()
				srv.teardownSession(s, "Ping timeout")
			}
		}
	}
}

// Status is the server view served by the admin status endpoint.
type Status struct {
	Running        bool   `json:"running"`
	ServerName     string `json:"server_name"`
	Port           int    `json:"port"`
	OnlineUsers    int    `json:"online_users"`
	MaxConnections int    `json:"max_connections"`
	Channels       int    `json:"channels"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// Status reports the server's live state.
func (srv *Server) Status() Status {
	return Status{
		Running:        srv.listener != nil,
		ServerName:     srv.cfg.Server.Name,
		Port:           srv.cfg.Server.Port,
		OnlineUsers:    srv.users.Count(),
		MaxConnections: srv.cfg.Limits.MaxConnections,
		Channels:       srv.channels.Count(),
		UptimeSeconds:  int64(srv.stats.Uptime().Seconds()),
	}
}

// KickUser force-disconnects the named user. Admin path.
func (srv *Server) KickUser(nick, reason string) bool {
	s := srv.users.GetByNickname(nick)
	if s == nil {
		return false
	}
	s.Send(fmt.Sprintf("ERROR :You have been kicked from the server: %s", reason))
	srv.teardownSession(s, reason)
	return true
}

// Broadcast sends a server notice to every connected user. Admin path.
func (srv *Server) Broadcast(text string) {
	srv.users.BroadcastAll(fmt.Sprintf(":%s NOTICE * :%s", srv.cfg.Server.Name, text))
}

// SendToChannel delivers a server notice to every member of the named
// channel. Admin path.
func (srv *Server) SendToChannel(name, text string) bool {
	ch := srv.channels.Get(name)
	if ch == nil {
		return false
	}
	srv.channels.Broadcast(ch, fmt.Sprintf(":%s NOTICE %s :%s", srv.cfg.Server.Name, name, text))
	return true
}

// DeleteChannel removes a channel and notifies its evicted members.
// Admin path.
func (srv *Server) DeleteChannel(name string) bool {
	members, ok := srv.channels.Delete(name)
	if !ok {
		return false
	}
	for _, nick := range members {
		if s := srv.users.GetByNickname(nick); s != nil {
			s.forgetChannel(name)
			srv.users.SendTo(s, fmt.Sprintf(":%s KICK %s %s :Channel deleted", srv.cfg.Server.Name, name, nick))
		}
	}
	return true
}

// SetUserRole updates a connected user's live role. The credential store
// change is the admin surface's job; this only refreshes the session.
func (srv *Server) SetUserRole(nick string, role auth.Role) bool {
	s := srv.users.GetByNickname(nick)
	if s == nil {
		return false
	}
	s.SetRole(role)
	return true
}

// Shutdown broadcasts a warning, waits the configured grace period,
// disconnects every session through the standard teardown unit and stops
// accepting connections.
func (srv *Server) Shutdown() {
	grace := srv.cfg.ShutdownGrace()
	if grace > 0 {
		srv.Broadcast(fmt.Sprintf("Server shutting down in %d seconds", int(grace.Seconds())))
		time.Sleep(grace)
	}
	srv.Stop()
}

// Stop disconnects everyone and closes the listener. Idempotent.
func (srv *Server) Stop() {
	srv.stopOnce.Do(func() {
		close(srv.shutdown)
		for _, s := range srv.users.Sessions() {
			s.Send("ERROR :Server shutting down")
			srv.teardownSession(s, "Server shutting down")
		}
		if srv.listener != nil {
			srv.listener.Close()
		}
		log.Printf("IRC server stopped")
	})
}
