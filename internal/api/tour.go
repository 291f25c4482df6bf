// Package api contains the HTTP handlers for the onboarding tour service
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"assetdesk/backend/internal/auth"
	"assetdesk/backend/internal/services"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Server holds the dependencies for the tour API.
type Server struct {
	Tours  *services.TourService
	Logger Logger
}

// NewServer creates a new Server.
func NewServer(tours *services.TourService, logger Logger) *Server {
	return &Server{Tours: tours, Logger: logger}
}

// RegisterHandlers mounts the tour endpoints on g, which must already be
// authenticated.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/tour/sessions", s.CreateSession)
	g.GET("/tour/sessions/:id", s.GetSession)
	g.DELETE("/tour/sessions/:id", s.DeleteSession)
	g.POST("/tour/sessions/:id/route", s.ReportRoute)
	g.PUT("/tour/sessions/:id/anchors", s.ReplaceAnchors)
	g.POST("/tour/sessions/:id/events", s.PostEvent)
	g.POST("/tour/sessions/:id/start", s.StartTour)
	g.POST("/tour/sessions/:id/restart", s.RestartTour)
	g.GET("/tour/sessions/:id/stream", s.Stream)
	g.GET("/tour/progress", s.GetProgress)
	g.GET("/tour/steps", s.ListSteps)
}

// RouteRequest carries the route the browser displays.
type RouteRequest struct {
	Route string `json:"route"`
}

// AnchorsRequest carries the anchor selectors the browser renders.
type AnchorsRequest struct {
	Anchors []string `json:"anchors"`
}

// EventRequest is a step-renderer callback.
type EventRequest struct {
	Index  *int   `json:"index"`
	Action string `json:"action"`
	Status string `json:"status,omitempty"`
}

// StartRequest optionally names the role whose tour to start.
type StartRequest struct {
	Role string `json:"role,omitempty"`
}

// CreateSession opens a tour session for the caller
// (POST /api/v1/tour/sessions)
func (s *Server) CreateSession(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	view, err := s.Tours.CreateSession(c.Request().Context(), id, req.Route)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

// GetSession returns the session snapshot
// (GET /api/v1/tour/sessions/:id)
func (s *Server) GetSession(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	view, err := s.Tours.View(id, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// DeleteSession closes the session
// (DELETE /api/v1/tour/sessions/:id)
func (s *Server) DeleteSession(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	if err := s.Tours.CloseSession(id, c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReportRoute records a route change
// (POST /api/v1/tour/sessions/:id/route)
func (s *Server) ReportRoute(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req RouteRequest
	if err := c.Bind(&req); err != nil || req.Route == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "route is required")
	}
	view, err := s.Tours.ReportRoute(id, c.Param("id"), req.Route)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// ReplaceAnchors replaces the rendered anchor set
// (PUT /api/v1/tour/sessions/:id/anchors)
func (s *Server) ReplaceAnchors(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req AnchorsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.Tours.ReplaceAnchors(id, c.Param("id"), req.Anchors); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PostEvent forwards a step-renderer callback
// (POST /api/v1/tour/sessions/:id/events)
func (s *Server) PostEvent(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	index, action, status, err := parseEvent(req)
	if err != nil {
		return err
	}
	view, err := s.Tours.Advance(id, c.Param("id"), index, action, status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// StartTour starts a tour regardless of progress
// (POST /api/v1/tour/sessions/:id/start)
func (s *Server) StartTour(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	var role models.Role
	if req.Role != "" {
		r, ok := models.ParseRole(req.Role)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown role: "+req.Role)
		}
		role = r
	}
	view, err := s.Tours.Start(id, c.Param("id"), role)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// RestartTour replays the active role's tour
// (POST /api/v1/tour/sessions/:id/restart)
func (s *Server) RestartTour(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	view, err := s.Tours.Restart(id, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, view)
}

// GetProgress returns the caller's completion record
// (GET /api/v1/tour/progress)
func (s *Server) GetProgress(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Tours.Progress(id.UserID).Read(c.Request().Context()))
}

// ListSteps returns a role's script, defaulting to the caller's role
// (GET /api/v1/tour/steps?role=)
func (s *Server) ListSteps(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	role := id.Role
	if q := c.QueryParam("role"); q != "" {
		r, ok := models.ParseRole(q)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown role: "+q)
		}
		role = r
	}
	return c.JSON(http.StatusOK, s.Tours.Steps(role))
}

func identity(c echo.Context) (models.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok || id.UserID == "" {
		return models.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "Identity not found in context")
	}
	return id, nil
}

func parseEvent(req EventRequest) (int, tour.Action, tour.RendererStatus, error) {
	if req.Index == nil {
		return 0, "", "", echo.NewHTTPError(http.StatusBadRequest, "index is required")
	}
	var action tour.Action
	if req.Action != "" {
		a, ok := tour.ParseAction(req.Action)
		if !ok {
			return 0, "", "", echo.NewHTTPError(http.StatusBadRequest, "unknown action: "+req.Action)
		}
		action = a
	}
	status := tour.RendererStatus(req.Status)
	switch status {
	case tour.StatusNone, tour.StatusFinished, tour.StatusSkipped:
	default:
		return 0, "", "", echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+req.Status)
	}
	if action == "" && status == tour.StatusNone {
		return 0, "", "", echo.NewHTTPError(http.StatusBadRequest, "action or status is required")
	}
	return *req.Index, action, status, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrRoleOverride):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, tour.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
