package main

import (
	"log/slog"
	"net/http"

	"github.com/irontrack/ironauth"
	"github.com/irontrack/ironauth/metrics/export/prometheus"
	"github.com/irontrack/ironauth/middleware"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type server struct {
	engine *ironauth.Engine
	logger *slog.Logger
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type passwordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type profileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type identityResponse struct {
	Subject   string `json:"subject"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	Superuser bool   `json:"superuser"`
	Active    bool   `json:"active"`
}

func newRouter(engine *ironauth.Engine, transport *middleware.Transport, extractIP echo.IPExtractor, exporter *prometheus.Exporter, logger *slog.Logger) *echo.Echo {
	s := &server{engine: engine, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractIP
	e.Use(echomw.Recover())

	e.GET("/healthz", s.health)
	e.GET("/.well-known/jwks.json", s.jwks)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	auth := e.Group("/auth")
	auth.POST("/register", s.register)
	auth.POST("/login", echo.WrapHandler(transport.LoginHandler()))
	auth.POST("/refresh", echo.WrapHandler(transport.RefreshHandler()))
	auth.POST("/logout", echo.WrapHandler(transport.LogoutHandler()))

	me := auth.Group("/me", transport.EchoGuard())
	me.GET("", s.me)
	me.PUT("/password", s.changePassword)
	me.PUT("/profile", s.updateOwnProfile)
	me.POST("/logout-all", s.logoutAll)

	admin := e.Group("/admin/users", transport.EchoGuard(ironauth.RequireSuperuser()))
	admin.POST("", s.register)
	admin.GET("/:id", s.user)
	admin.PUT("/:id/active", s.setActive)
	admin.PUT("/:id/role", s.assignRole)
	admin.DELETE("/:id/role", s.revokeRole)
	admin.DELETE("/:id", s.deleteUser)

	return e
}

func (s *server) fail(c echo.Context, err error) error {
	reason := ironauth.ReasonOf(err)
	if reason.HTTPStatus() >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Path(), "reason", reason.String(), "error", err)
	}
	return c.JSON(reason.HTTPStatus(), map[string]string{"code": reason.String()})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"code": ironauth.ReasonBadRequest.String()})
}

func actor(c echo.Context) *ironauth.Identity {
	id, _ := c.Get("identity").(*ironauth.Identity)
	return id
}

func (s *server) health(c echo.Context) error {
	if err := s.engine.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) jwks(c echo.Context) error {
	set, err := s.engine.PublicJWKS()
	if err != nil {
		return s.fail(c, err)
	}
	return c.Blob(http.StatusOK, "application/jwk-set+json", set)
}

func (s *server) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	ctx := ironauth.WithClientIP(c.Request().Context(), c.RealIP())
	id, err := s.engine.Register(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(id))
}

func (s *server) me(c echo.Context) error {
	return c.JSON(http.StatusOK, toResponse(actor(c)))
}

func (s *server) changePassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := s.engine.ChangePassword(c.Request().Context(), actor(c).Subject, req.Current, req.New); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) updateOwnProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := s.engine.UpdateProfile(c.Request().Context(), actor(c).Subject, req.Name, req.Email); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) logoutAll(c echo.Context) error {
	if err := s.engine.LogoutAll(c.Request().Context(), actor(c).Subject); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) user(c echo.Context) error {
	id, err := s.engine.User(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(id))
}

func (s *server) setActive(c echo.Context) error {
	var req activeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := s.engine.SetActive(c.Request().Context(), c.Param("id"), req.Active); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) assignRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := s.engine.AssignRole(c.Request().Context(), c.Param("id"), req.Role); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) revokeRole(c echo.Context) error {
	if err := s.engine.RevokeRole(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) deleteUser(c echo.Context) error {
	if err := s.engine.DeleteUser(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func toResponse(id *ironauth.Identity) identityResponse {
	if id == nil {
		return identityResponse{}
	}
	return identityResponse{
		Subject:   id.Subject,
		Email:     id.Email,
		Name:      id.Name,
		Role:      id.Role,
		Superuser: id.Superuser,
		Active:    id.Active,
	}
}
