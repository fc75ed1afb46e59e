package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options configures the HTTP server.
type Options struct {
	Addr              string
	InternalAuthToken string
	Production        bool
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(h *Handlers, internalToken string) *gin.Engine {
	if h.Log == nil {
		h.Log = zap.NewNop().Sugar()
	}
	if h.Location == nil {
		h.Location = time.Local
	}

	r := gin.New()
	setupMiddleware(r, h.Log)

	r.GET("/healthz", h.health)

	internal := r.Group("/internal")
	internal.Use(InternalAuth(internalToken))
	{
		internal.POST("/recurring/process", h.processRecurring)
	}

	v1 := r.Group("/api/v1")
	v1.Use(RequireUser())
	{
		v1.POST("/session/start", h.startSession)

		v1.POST("/tasks/:id/schedule", h.scheduleTask)
		v1.DELETE("/tasks/:id/schedule", h.unscheduleTask)
		v1.POST("/tasks/:id/recurrence/sync", h.syncRecurrence)

		v1.POST("/events/conflicts", h.checkConflicts)
		v1.POST("/events/:id/complete", h.completeEvent)
		v1.POST("/events/:id/reschedule", h.rescheduleEvent)

		v1.GET("/occurrences", h.listOccurrences)
		v1.GET("/calendar.ics", h.exportCalendar)
	}
	return r
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

func NewServer(h *Handlers, opts Options) *Server {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(h, opts.InternalAuthToken)
	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: h.Log,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Infow("shutting down http server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
