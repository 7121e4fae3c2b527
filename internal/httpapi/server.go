package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"planner/internal/model"
	"planner/internal/service"
)

// Settings is the notification profile surface used by the API.
type Settings interface {
	Get(ctx context.Context) (*model.Profile, error)
	Update(ctx context.Context, upd service.SettingsUpdate) (*model.Profile, error)
	UnlinkAddress(ctx context.Context) (*model.Profile, error)
	SendTest(ctx context.Context) error
}

// Digests triggers a digest outside the schedule.
type Digests interface {
	TriggerNow(ctx context.Context, profileID string) service.TriggerResult
}

// Subscriptions registers browser push endpoints.
type Subscriptions interface {
	Register(ctx context.Context, endpoint, p256dh, auth string) (*model.PushEndpoint, error)
	Unregister(ctx context.Context, endpoint string) error
}

// Tasks is the task surface exposed over HTTP.
type Tasks interface {
	ListOpen(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, input service.TaskInput) (*model.Task, error)
	UpdateTask(ctx context.Context, id string, input service.TaskInput) (*model.Task, error)
	CompleteTask(ctx context.Context, id string) (*service.CompletionResult, error)
	ReopenTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
}

// Classes manages task classes.
type Classes interface {
	List(ctx context.Context) ([]model.Class, error)
	Create(ctx context.Context, name, color string) (*model.Class, error)
	Update(ctx context.Context, id string, upd service.ClassUpdate) (*model.Class, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
}

// ScheduleResetter discards the cached reminder wake time.
type ScheduleResetter interface {
	Reset()
}

// Deps bundles the services the server routes to.
type Deps struct {
	Settings      Settings
	Digests       Digests
	Subscriptions Subscriptions
	Tasks         Tasks
	Classes       Classes
	Reminders     ScheduleResetter
	// VAPIDPublicKey is served to browsers; empty means push is disabled.
	VAPIDPublicKey string
	// AllowedOrigin enables CORS for a single frontend origin.
	AllowedOrigin string
}

// Server is the planner HTTP API.
type Server struct {
	deps   Deps
	router *gin.Engine
	log    zerolog.Logger
}

// NewServer creates the API server and registers its routes.
func NewServer(deps Deps, log zerolog.Logger) *Server {
	router := gin.New()
	s := &Server{
		deps:   deps,
		router: router,
		log:    log.With().Str("component", "http").Logger(),
	}

	router.Use(gin.Recovery(), s.accessLog())
	if deps.AllowedOrigin != "" {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     []string{deps.AllowedOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/vapid-key", s.handleVAPIDKey)
		api.POST("/subscriptions", s.handleSubscribe)
		api.DELETE("/subscriptions", s.handleUnsubscribe)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)
		api.DELETE("/settings/address", s.handleUnlinkAddress)
		api.POST("/settings/test-message", s.handleTestMessage)
		api.POST("/settings/trigger-daily", s.handleTriggerDaily)

		api.POST("/reminders/reset", s.handleResetReminders)

		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.PUT("/tasks/:id", s.handleUpdateTask)
		api.POST("/tasks/:id/complete", s.handleCompleteTask)
		api.POST("/tasks/:id/reopen", s.handleReopenTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)

		api.GET("/classes", s.handleListClasses)
		api.POST("/classes", s.handleCreateClass)
		api.POST("/classes/reorder", s.handleReorderClasses)
		api.PUT("/classes/:id", s.handleUpdateClass)
		api.DELETE("/classes/:id", s.handleDeleteClass)
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
