package irc_test

import (
	"log"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irc4go/ircd/irc"
	"github.com/irc4go/ircd/irc/auth"
	"github.com/irc4go/ircd/irc/config"
)

func init() {
	log.SetFlags(log.Lshortfile | log.Lmicroseconds)
}

// startTestServer boots a server on an ephemeral port and returns its
// dial address.
func startTestServer(t *testing.T, mutate func(*config.Config)) (*irc.Server, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Name = "test.irc.local"
	cfg.Server.Network = "TestNet"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	if mutate != nil {
		mutate(cfg)
	}

	accounts := auth.NewStore(cfg.Auth.DefaultAdminUsername, cfg.Auth.DefaultAdminPassword)
	require.NoError(t, accounts.Register("staff", "staffpw", auth.RoleOperator))

	server := irc.NewServer(cfg, accounts)
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	return server, server.Addr().String()
}

// TestClient is a raw protocol client for driving the server in tests.
type TestClient struct {
	t      *testing.T
	conn   net.Conn
	tpConn *textproto.Conn
	nick   string
}

func dialTestClient(t *testing.T, addr, nick string) *TestClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := &TestClient{t: t, conn: conn, tpConn: textproto.NewConn(conn), nick: nick}
	t.Cleanup(c.Close)
	return c
}

func (c *TestClient) Close() {
	c.conn.Close()
}

func (c *TestClient) SendCommand(command string) {
	c.t.Helper()
	log.Printf("    [%s] => %#v", c.nick, command)
	require.NoError(c.t, c.tpConn.PrintfLine("%s", command))
}

// WaitForLine reads until a line containing substr arrives or the timeout
// elapses, returning the matching line.
func (c *TestClient) WaitForLine(substr string, timeout time.Duration) (string, bool) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		line, err := c.tpConn.ReadLine()
		if err != nil {
			break
		}
		log.Printf("    [%s] <= %#v", c.nick, line)
		if strings.Contains(line, substr) {
			c.conn.SetReadDeadline(time.Time{})
			return line, true
		}
	}
	c.conn.SetReadDeadline(time.Time{})
	return "", false
}

// Expect asserts that a line containing substr arrives.
func (c *TestClient) Expect(substr string) string {
	c.t.Helper()
	line, ok := c.WaitForLine(substr, 2*time.Second)
	if !ok {
		c.t.Fatalf("[%s] expected a line containing %q", c.nick, substr)
	}
	return line
}

// ExpectNone asserts that no line containing substr arrives within a short
// window.
func (c *TestClient) ExpectNone(substr string, window time.Duration) {
	c.t.Helper()
	if line, ok := c.WaitForLine(substr, window); ok {
		c.t.Fatalf("[%s] did not expect %q, got %q", c.nick, substr, line)
	}
}

// Register performs NICK/USER and waits for the end of the MOTD.
func (c *TestClient) Register() {
	c.t.Helper()
	c.SendCommand("NICK " + c.nick)
	c.SendCommand("USER " + c.nick + " 0 * :" + c.nick)
	c.Expect(" 376 ")
}

func TestRegistrationGreeting(t *testing.T) {
	_, addr := startTestServer(t, nil)
	c := dialTestClient(t, addr, "alice")

	c.SendCommand("NICK alice")
	c.SendCommand("USER alice 0 * :Alice A")

	c.Expect(" 001 alice ")
	c.Expect(" 002 alice ")
	c.Expect(" 003 alice ")
	c.Expect(" 004 alice ")
	c.Expect(" 375 alice ")
	c.Expect(" 372 alice ")
	c.Expect(" 376 alice ")
}

func TestGreetingEmittedOnlyOnce(t *testing.T) {
	_, addr := startTestServer(t, nil)
	c := dialTestClient(t, addr, "alice")

	// Nickname-only sessions are greeted immediately under the default
	// configuration; completing registration must not repeat the block.
	c.SendCommand("NICK alice")
	c.Expect(" 001 alice ")
	c.Expect(" 376 alice ")

	c.SendCommand("USER alice 0 * :Alice A")
	c.ExpectNone(" 001 ", 300*time.Millisecond)
}

func TestNicknameCollision(t *testing.T) {
	_, addr := startTestServer(t, nil)

	c1 := dialTestClient(t, addr, "bob")
	c1.Register()

	c2 := dialTestClient(t, addr, "bob2")
	c2.SendCommand("NICK bob")
	c2.Expect("433 * bob :Nickname is already in use")
}

func TestUnknownCommand(t *testing.T) {
	_, addr := startTestServer(t, nil)
	c := dialTestClient(t, addr, "alice")
	c.Register()

	c.SendCommand("BOGUS one two")
	c.Expect(" 421 alice BOGUS :Unknown command")
}

func TestPingPong(t *testing.T) {
	_, addr := startTestServer(t, nil)
	c := dialTestClient(t, addr, "alice")

	// PING works before registration.
	c.SendCommand("PING 12345")
	c.Expect("PONG test.irc.local :12345")
}

func TestNeedMoreParams(t *testing.T) {
	_, addr := startTestServer(t, nil)
	c := dialTestClient(t, addr, "alice")
	c.Register()

	c.SendCommand("USER onlyone")
	c.Expect(" 461 alice USER :Not enough parameters")
}

func TestChannelMessageFanout(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #go")
	alice.Expect(":alice!alice@")
	alice.Expect(" 353 alice = #go :@alice")
	alice.Expect(" 366 alice #go ")

	bob.SendCommand("JOIN #go")
	bob.Expect(" 366 bob #go ")
	alice.Expect(":bob!bob@") // join notice reaches existing members

	alice.SendCommand("PRIVMSG #go :hello bob")
	line := bob.Expect("PRIVMSG #go :hello bob")
	assert.True(t, strings.HasPrefix(line, ":alice!"))

	// The sender must not receive its own channel message back.
	alice.ExpectNone("PRIVMSG #go :hello bob", 300*time.Millisecond)
}

func TestKickScenario(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #test")
	alice.Expect(" 366 alice ")
	bob.SendCommand("JOIN #test")
	bob.Expect(" 366 bob ")

	alice.SendCommand("KICK #test bob :spam")
	bob.Expect("KICK #test bob :spam")

	bob.SendCommand("PRIVMSG #test :hi")
	bob.Expect(" 404 bob #test :Cannot send to channel")
}

func TestKickRequiresChannelOperator(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #test")
	alice.Expect(" 366 alice ")
	bob.SendCommand("JOIN #test")
	bob.Expect(" 366 bob ")

	bob.SendCommand("KICK #test alice :revenge")
	bob.Expect(" 482 bob #test :You're not channel operator")
}

func TestModeratedChannel(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #mod")
	alice.Expect(" 366 alice ")
	alice.SendCommand("MODE #mod +m")
	alice.Expect("MODE #mod +m")

	bob.SendCommand("JOIN #mod")
	bob.Expect(" 366 bob ")

	bob.SendCommand("PRIVMSG #mod :can anyone hear me")
	bob.Expect(" 404 bob #mod :Cannot send to channel")

	alice.SendCommand("PRIVMSG #mod :operators may speak")
	bob.Expect("PRIVMSG #mod :operators may speak")
}

func TestTopicLocked(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #t")
	alice.Expect(" 366 alice ")
	alice.SendCommand("MODE #t +t")
	alice.Expect("MODE #t +t")

	bob.SendCommand("JOIN #t")
	bob.Expect(" 366 bob ")

	bob.SendCommand("TOPIC #t :bob was here")
	bob.Expect(" 482 bob #t :You're not channel operator")

	alice.SendCommand("TOPIC #t :release notes")
	bob.Expect("TOPIC #t :release notes")

	bob.SendCommand("TOPIC #t")
	bob.Expect(" 332 bob #t :release notes")
}

func TestTopicClearWithEmptyTrailing(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #t")
	alice.Expect(" 366 alice ")
	bob.SendCommand("JOIN #t")
	bob.Expect(" 366 bob ")

	alice.SendCommand("TOPIC #t :release notes")
	bob.Expect("TOPIC #t :release notes")

	// A bare colon is a set with an empty topic, not a query.
	alice.SendCommand("TOPIC #t :")
	bob.Expect("TOPIC #t :")

	bob.SendCommand("TOPIC #t")
	bob.Expect(" 331 bob #t :No topic is set")
}

func TestInviteOnlyChannel(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #priv")
	alice.Expect(" 366 alice ")
	alice.SendCommand("MODE #priv +i")
	alice.Expect("MODE #priv +i")

	bob.SendCommand("JOIN #priv")
	bob.Expect(" 473 bob #priv :Cannot join channel (+i)")

	alice.SendCommand("INVITE bob #priv")
	alice.Expect(" 341 alice bob #priv")
	bob.Expect("INVITE bob :#priv")

	bob.SendCommand("JOIN #priv")
	bob.Expect(" 366 bob #priv ")
}

func TestQuitBroadcast(t *testing.T) {
	server, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #go")
	alice.Expect(" 366 alice ")
	bob.SendCommand("JOIN #go")
	bob.Expect(" 366 bob ")

	bob.SendCommand("QUIT :gone fishing")
	alice.Expect(":bob!bob@")

	require.Eventually(t, func() bool {
		return server.Users().GetByNickname("bob") == nil
	}, 2*time.Second, 20*time.Millisecond)

	// The departed nickname is free again.
	carol := dialTestClient(t, addr, "carol")
	carol.SendCommand("NICK bob")
	carol.SendCommand("USER bob 0 * :Bob Two")
	carol.Expect(" 376 bob ")
}

func TestNickRenameAnnouncedToChannel(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #go")
	alice.Expect(" 366 alice ")
	bob.SendCommand("JOIN #go")
	bob.Expect(" 366 bob ")

	bob.SendCommand("NICK robert")
	bob.Expect(":bob!bob@")
	alice.Expect("NICK :robert")
}

func TestOperAndKill(t *testing.T) {
	server, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	// KILL before OPER is refused.
	alice.SendCommand("KILL bob :no reason")
	alice.Expect(" 481 alice :Permission Denied")

	alice.SendCommand("OPER staff staffpw")
	alice.Expect(" 381 alice :You are now an IRC operator")

	alice.SendCommand("KILL bob :misbehaving")
	bob.Expect("ERROR :Killed by alice: misbehaving")

	require.Eventually(t, func() bool {
		return server.Users().GetByNickname("bob") == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServerFull(t *testing.T) {
	_, addr := startTestServer(t, func(cfg *config.Config) {
		cfg.Limits.MaxConnections = 1
	})

	first := dialTestClient(t, addr, "alice")
	first.Register()

	second := dialTestClient(t, addr, "late")
	second.Expect("ERROR :Server is full")
}

func TestWhois(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()
	bob.SendCommand("JOIN #go")
	bob.Expect(" 366 bob ")

	alice.SendCommand("WHOIS bob")
	alice.Expect(" 311 alice bob bob ")
	alice.Expect(" 319 alice bob :#go")
	alice.Expect(" 312 alice bob test.irc.local ")
	alice.Expect(" 318 alice bob :End of /WHOIS list")

	alice.SendCommand("WHOIS ghost")
	alice.Expect(" 401 alice ghost :No such nick/channel")
}

func TestListHidesSecretChannels(t *testing.T) {
	_, addr := startTestServer(t, nil)

	alice := dialTestClient(t, addr, "alice")
	alice.Register()
	bob := dialTestClient(t, addr, "bob")
	bob.Register()

	alice.SendCommand("JOIN #open")
	alice.Expect(" 366 alice ")
	alice.SendCommand("JOIN #hidden")
	alice.Expect(" 366 alice ")
	alice.SendCommand("MODE #hidden +s")
	alice.Expect("MODE #hidden +s")

	bob.SendCommand("LIST")
	bob.Expect(" 322 bob #open 1 ")
	bob.Expect(" 323 bob :End of /LIST")
}

func TestRequireAuthentication(t *testing.T) {
	_, addr := startTestServer(t, func(cfg *config.Config) {
		cfg.Auth.RequireAuthentication = true
		cfg.Auth.AllowUnregisteredChannels = false
	})

	// Wrong password never registers.
	c := dialTestClient(t, addr, "alice")
	c.SendCommand("PASS wrongpw")
	c.SendCommand("NICK alice")
	c.SendCommand("USER staff 0 * :Staff")
	c.Expect(" 464 alice :Password incorrect")

	c.SendCommand("JOIN #go")
	c.Expect(" 451 alice :You have not registered")

	// Correct credentials complete registration and carry the role.
	c2 := dialTestClient(t, addr, "staffer")
	c2.SendCommand("PASS staffpw")
	c2.SendCommand("NICK staffer")
	c2.SendCommand("USER staff 0 * :Staff")
	c2.Expect(" 001 staffer ")
	c2.Expect(" 376 staffer ")

	// The seeded operator role came from the account store.
	c2.SendCommand("KILL alice :cleanup")
	c.Expect("ERROR :Killed by staffer: cleanup")
}
