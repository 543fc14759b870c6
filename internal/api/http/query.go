// Package http exposes the conductor's query surface over HTTP.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Ankcorn/big-daddy/internal/conductor"
	cerr "github.com/Ankcorn/big-daddy/internal/errors"
)

var log = logrus.WithField("component", "http")

// QueryRequest is the POST /query body.
type QueryRequest struct {
	SQL           string        `json:"sql"`
	Params        []interface{} `json:"params"`
	CorrelationID string        `json:"correlation_id"`
}

// ErrorResponse is the typed error payload.
type ErrorResponse struct {
	Category      string `json:"category"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Server wraps the conductor behind an echo server.
type Server struct {
	echo      *echo.Echo
	conductor *conductor.Conductor
}

// NewServer creates the HTTP query server.
func NewServer(c *conductor.Conductor) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, conductor: c}
	e.POST("/query", s.handleQuery)
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return s
}

// Start begins serving on addr and blocks until shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// handleQuery runs one statement and returns rows or a typed error.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Category: string(cerr.ErrCategoryParser),
			Code:     cerr.CodeParseError,
			Message:  "invalid request body",
		})
	}
	if req.SQL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Category: string(cerr.ErrCategoryParser),
			Code:     cerr.CodeParseError,
			Message:  "sql is required",
		})
	}

	start := time.Now()
	result, err := s.conductor.Query(c.Request().Context(), req.SQL, req.Params, req.CorrelationID)
	if err != nil {
		log.WithError(err).WithField("correlation_id", req.CorrelationID).Warn("query failed")
		return c.JSON(statusFor(err), ErrorResponse{
			Category:      string(cerr.GetCategory(err)),
			Code:          cerr.GetCode(err),
			Message:       err.Error(),
			CorrelationID: req.CorrelationID,
		})
	}

	log.WithFields(logrus.Fields{
		"duration_ms":    time.Since(start).Milliseconds(),
		"rows":           len(result.Rows),
		"correlation_id": req.CorrelationID,
	}).Debug("query complete")
	return c.JSON(http.StatusOK, result)
}

// statusFor maps error categories to HTTP status codes.
func statusFor(err error) int {
	switch cerr.GetCategory(err) {
	case cerr.ErrCategoryTokenizer, cerr.ErrCategoryParser, cerr.ErrCategorySchema, cerr.ErrCategoryPlan:
		return http.StatusBadRequest
	case cerr.ErrCategoryTopology:
		return http.StatusConflict
	case cerr.ErrCategoryShard:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
