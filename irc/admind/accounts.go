package admind

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/irc4go/ircd/irc/auth"
)

func (s *Server) handleListAccounts(c echo.Context) error {
	accounts := s.irc.Accounts().Accounts()
	out := make(map[string]string, len(accounts))
	for account, role := range accounts {
		out[account] = role.String()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateAccount(c echo.Context) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&body); err != nil || body.Username == "" || body.Password == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "username and password are required"})
	}

	role := auth.RoleUser
	if body.Role != "" {
		var err error
		if role, err = auth.ParseRole(body.Role); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}

	if err := s.irc.Accounts().Register(body.Username, body.Password, role); err != nil {
		if errors.Is(err, auth.ErrAccountExists) {
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusCreated, statusOK)
}

func (s *Server) handleDeleteAccount(c echo.Context) error {
	err := s.irc.Accounts().Delete(c.Param("username"))
	switch {
	case errors.Is(err, auth.ErrNoSuchAccount):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrProtectedAccount):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, statusOK)
}

// handleResetPassword sets a new password without an old-password check.
func (s *Server) handleResetPassword(c echo.Context) error {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil || body.Password == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "password is required"})
	}
	if err := s.irc.Accounts().ResetPassword(c.Param("username"), body.Password); err != nil {
		if errors.Is(err, auth.ErrNoSuchAccount) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, statusOK)
}

// handleChangePassword requires the correct old password.
func (s *Server) handleChangePassword(c echo.Context) error {
	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&body); err != nil || body.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "old_password and new_password are required"})
	}
	err := s.irc.Accounts().ChangePassword(c.Param("username"), body.OldPassword, body.NewPassword)
	switch {
	case errors.Is(err, auth.ErrNoSuchAccount):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrBadPassword):
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, statusOK)
}
