// Package httpapi exposes a small operational surface over the tracker's
// stats recorder: a liveness probe and a JSON snapshot of the rolling
// tracking/update cycle averages.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tracker/bot/internal/stats"
)

// Server is the Echo application.
type Server struct {
	echo  *echo.Echo
	stats *stats.Recorder
	log   *slog.Logger
}

// New constructs an Echo app with the health and stats routes.
func New(recorder *stats.Recorder, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	s := &Server{echo: e, stats: recorder, log: log}
	s.registerRoutes()
	return s
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Debug("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.log.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statsResponse struct {
	TrackingCycles   uint64 `json:"tracking_cycles"`
	UpdateCycles     uint64 `json:"update_cycles"`
	AvgTrackingCycle string `json:"avg_tracking_cycle"`
	AvgUpdateCycle   string `json:"avg_update_cycle"`
	WatchedGames     int64  `json:"watched_games"`
	WatchedTargets   int64  `json:"watched_targets"`
}

func (s *Server) handleStats(c echo.Context) error {
	snap := s.stats.Snapshot()
	return c.JSON(http.StatusOK, statsResponse{
		TrackingCycles:   snap.TrackingCycles,
		UpdateCycles:     snap.UpdateCycles,
		AvgTrackingCycle: snap.AvgTrackingCycle.String(),
		AvgUpdateCycle:   snap.AvgUpdateCycle.String(),
		WatchedGames:     snap.WatchedGames,
		WatchedTargets:   snap.WatchedTargets,
	})
}
