// Package admind exposes the administrative REST API: status, user and
// channel listings, kick/role/broadcast operations and account management,
// all direct calls into the core registries with no protocol framing.
package admind

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/irc4go/ircd/irc"
	"github.com/irc4go/ircd/irc/config"
)

// Server is the admin HTTP server over one IRC server instance.
type Server struct {
	irc  *irc.Server
	cfg  *config.Config
	echo *echo.Echo
}

// New builds the admin API routes over the given IRC server.
func New(ircServer *irc.Server, cfg *config.Config) *Server {
	s := &Server{
		irc:  ircServer,
		cfg:  cfg,
		echo: echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.route()
	return s
}

func (s *Server) route() {
	api := s.echo.Group("/api", s.requireBearer)

	api.GET("/status", s.handleStatus)

	api.GET("/users", s.handleListUsers)
	api.GET("/users/:nickname", s.handleGetUser)
	api.POST("/users/:nickname/kick", s.handleKickUser)
	api.POST("/users/:nickname/role", s.handleSetRole)

	api.GET("/channels", s.handleListChannels)
	api.GET("/channels/:name", s.handleGetChannel)
	api.DELETE("/channels/:name", s.handleDeleteChannel)
	api.POST("/channels/:name/message", s.handleChannelMessage)

	api.POST("/broadcast", s.handleBroadcast)
	api.POST("/shutdown", s.handleShutdown)

	api.GET("/accounts", s.handleListAccounts)
	api.POST("/accounts", s.handleCreateAccount)
	api.DELETE("/accounts/:username", s.handleDeleteAccount)
	api.POST("/accounts/:username/reset-password", s.handleResetPassword)
	api.POST("/accounts/:username/change-password", s.handleChangePassword)

	s.echo.GET("/metrics", echo.WrapHandler(s.irc.Stats().MetricsHandler()), s.requireBearer)
}

// requireBearer rejects requests without a configured bearer token,
// compared in constant time.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		for _, valid := range s.cfg.Admin.BearerTokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(valid)) == 1 {
				return next(c)
			}
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
}

// Start runs the admin HTTP listener. Blocks until Stop.
func (s *Server) Start() error {
	log.Printf("Admin API listening on %s", s.cfg.AdminListenAddress())
	return s.echo.Start(s.cfg.AdminListenAddress())
}

// Stop shuts the admin HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
