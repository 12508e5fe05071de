// Package api exposes the webhook endpoints and the thin admin
// surface over the rule, credential and activity stores.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/replyrelay/internal/dispatch"
	"github.com/replyrelay/internal/store"
)

// Server represents the API server.
type Server struct {
	echo        *echo.Echo
	port        int
	verifyToken string
	store       store.Store
	dispatcher  *dispatch.Dispatcher
}

// NewServer creates a new API server.
func NewServer(port int, verifyToken string, st store.Store, d *dispatch.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:        e,
		port:        port,
		verifyToken: verifyToken,
		store:       st,
		dispatcher:  d,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// Webhook endpoints
	s.echo.GET("/webhook", s.VerifyWebhookHandler)
	s.echo.POST("/webhook", s.WebhookHandler)

	// Admin API
	api := s.echo.Group("/api")
	api.GET("/keywords", s.listKeywords)
	api.POST("/keywords", s.saveKeyword)
	api.GET("/automations", s.getAutomations)
	api.POST("/automations", s.saveAutomations)
	api.POST("/credentials", s.saveCredential)
	api.GET("/logs", s.listActivity)
	api.GET("/status", s.getStatus)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
