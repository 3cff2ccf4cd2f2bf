package admind

import (
	"net/http"
	"net/url"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/irc4go/ircd/irc/auth"
)

// channelParam decodes the :name path parameter; channel names start with
// '#' which clients must percent-encode.
func channelParam(c echo.Context) string {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		return c.Param("name")
	}
	return name
}

// handleStatus returns the live server state plus the counter snapshot.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"server": s.irc.Status(),
		"stats":  s.irc.Stats().Snapshot(),
	})
}

func (s *Server) handleListUsers(c echo.Context) error {
	sessions := s.irc.Users().Sessions()
	views := make([]UserView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, userView(sess))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Nickname < views[j].Nickname })
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetUser(c echo.Context) error {
	sess := s.irc.Users().GetByNickname(c.Param("nickname"))
	if sess == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such user"})
	}
	return c.JSON(http.StatusOK, userView(sess))
}

func (s *Server) handleKickUser(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad request"})
	}
	if body.Reason == "" {
		body.Reason = "Kicked by administrator"
	}
	if !s.irc.KickUser(c.Param("nickname"), body.Reason) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such user"})
	}
	return c.JSON(http.StatusOK, statusOK)
}

// handleSetRole updates both the stored account role and, when the user is
// online, the live session role.
func (s *Server) handleSetRole(c echo.Context) error {
	var body struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad request"})
	}
	role, err := auth.ParseRole(body.Role)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	nickname := c.Param("nickname")
	sess := s.irc.Users().GetByNickname(nickname)
	if sess == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such user"})
	}
	if account := sess.Username(); account != "" && s.irc.Accounts().Exists(account) {
		if err := s.irc.Accounts().SetRole(account, role); err != nil {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
	}
	s.irc.SetUserRole(nickname, role)
	return c.JSON(http.StatusOK, statusOK)
}

func (s *Server) handleListChannels(c echo.Context) error {
	channels := s.irc.Channels().All()
	views := make([]ChannelView, 0, len(channels))
	for _, ch := range channels {
		views = append(views, channelView(ch))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetChannel(c echo.Context) error {
	ch := s.irc.Channels().Get(channelParam(c))
	if ch == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such channel"})
	}
	return c.JSON(http.StatusOK, channelView(ch))
}

func (s *Server) handleDeleteChannel(c echo.Context) error {
	if !s.irc.DeleteChannel(channelParam(c)) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such channel"})
	}
	return c.JSON(http.StatusOK, statusOK)
}

// handleChannelMessage delivers a server notice to every channel member.
func (s *Server) handleChannelMessage(c echo.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil || body.Message == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
	}
	if !s.irc.SendToChannel(channelParam(c), body.Message) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no such channel"})
	}
	return c.JSON(http.StatusOK, statusOK)
}

func (s *Server) handleBroadcast(c echo.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil || body.Message == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
	}
	s.irc.Broadcast(body.Message)
	return c.JSON(http.StatusOK, statusOK)
}

// handleShutdown starts the graceful shutdown sequence and returns
// immediately; the warning broadcast and grace period run in the
// background.
func (s *Server) handleShutdown(c echo.Context) error {
	go s.irc.Shutdown()
	return c.JSON(http.StatusAccepted, okResponse{Status: "shutting down"})
}
