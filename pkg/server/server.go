// Package server exposes the research loop over HTTP.
//
// Two run surfaces share one engine: POST /api/research/sync blocks until
// the loop terminates and returns the final draft, while
// POST /api/research/stream forwards per-step events over SSE as the run
// progresses. Step events travel through NATS, so the streaming handler
// works against runs started by any process connected to the same broker.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/config"
	"github.com/spasmodic123/search-agent/internal/events"
	"github.com/spasmodic123/search-agent/internal/orchestrator"
)

const serviceName = "search-agent"

// sseHeartbeatInterval keeps proxies from timing out idle streams. Tool
// fetches can take tens of seconds, so the stream may be quiet that long.
const sseHeartbeatInterval = 15 * time.Second

// sseTerminalDrainTimeout bounds how long the stream waits for the
// broker-delivered terminal event after the run itself has finished.
const sseTerminalDrainTimeout = 2 * time.Second

var researchRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "searchagent_http_research_requests_total",
		Help: "Research requests by surface and outcome.",
	},
	[]string{"surface", "outcome"},
)

// Server is the HTTP front end over the orchestration engine.
type Server struct {
	cfg    config.ServerConfig
	engine *orchestrator.Engine
	nc     *nats.Conn
	logger *zap.Logger
	echo   *echo.Echo
}

// New creates the HTTP server. The NATS connection feeds the SSE surface;
// pass nil to disable streaming (the route then reports 503).
func New(cfg config.ServerConfig, engine *orchestrator.Engine, nc *nats.Conn, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger.Named("http")))

	s := &Server{
		cfg:    cfg,
		engine: engine,
		nc:     nc,
		logger: logger.Named("http"),
		echo:   e,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/api/research/sync", s.handleResearchSync)
	s.echo.POST("/api/research/stream", s.handleResearchStream)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
	})
}

// handleResearchSync runs the loop to completion and returns the result.
func (s *Server) handleResearchSync(c echo.Context) error {
	req, err := bindResearchRequest(c)
	if err != nil {
		researchRequests.WithLabelValues("sync", "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	res, err := s.engine.Run(c.Request().Context(), req.ThreadID, req.Topic)
	if err != nil {
		researchRequests.WithLabelValues("sync", "error").Inc()
		s.logger.Error("research run failed",
			zap.String("thread_id", req.ThreadID),
			zap.Error(err),
		)
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}

	researchRequests.WithLabelValues("sync", "ok").Inc()
	return c.JSON(http.StatusOK, res)
}

// handleResearchStream starts the run in the background and forwards its
// step events to the client as SSE until the run completes or the client
// disconnects.
func (s *Server) handleResearchStream(c echo.Context) error {
	req, err := bindResearchRequest(c)
	if err != nil {
		researchRequests.WithLabelValues("stream", "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if s.nc == nil {
		researchRequests.WithLabelValues("stream", "unavailable").Inc()
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event broker not configured"})
	}

	// Subscribe before starting the run so the start event is not lost.
	msgCh := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanSubscribe(events.SubjectWildcard(req.ThreadID), msgCh)
	if err != nil {
		researchRequests.WithLabelValues("stream", "error").Inc()
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	defer func() { _ = sub.Unsubscribe() }()

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	// The run detaches from the request context: client disconnect cancels
	// it, but a slow SSE write must not.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan runOutcome, 1)
	go func() {
		res, runErr := s.engine.Run(runCtx, req.ThreadID, req.Topic)
		done <- runOutcome{res: res, err: runErr}
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	runDone := false
	var outcome runOutcome
	var drainDeadline <-chan time.Time
	for {
		select {
		case msg := <-msgCh:
			eventType := eventTypeFromSubject(msg.Subject)
			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Data)
			c.Response().Flush()

			if eventType == events.TypeComplete || eventType == events.TypeError {
				label := "ok"
				if eventType == events.TypeError {
					label = "error"
				}
				researchRequests.WithLabelValues("stream", label).Inc()
				if !runDone {
					// Drain the run goroutine before returning.
					<-done
				}
				return nil
			}

		case outcome = <-done:
			runDone = true
			done = nil
			if outcome.err != nil {
				// The error event is already in flight on the broker; keep
				// draining msgCh until it arrives.
				s.logger.Warn("streamed run failed",
					zap.String("thread_id", req.ThreadID),
					zap.Error(outcome.err),
				)
			}
			// If the broker drops the terminal event, do not heartbeat
			// forever; synthesize it after a grace period.
			drainDeadline = time.After(sseTerminalDrainTimeout)

		case <-drainDeadline:
			s.writeTerminalEvent(c, req.ThreadID, outcome)
			label := "ok"
			if outcome.err != nil {
				label = "error"
			}
			researchRequests.WithLabelValues("stream", label).Inc()
			return nil

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			researchRequests.WithLabelValues("stream", "disconnected").Inc()
			cancel()
			if !runDone {
				<-done
			}
			return nil
		}
	}
}

// runOutcome carries the background run's result to the stream loop.
type runOutcome struct {
	res *orchestrator.Result
	err error
}

// writeTerminalEvent emits a complete or error SSE event built from the
// run outcome, used when the broker never delivered the terminal event.
func (s *Server) writeTerminalEvent(c echo.Context, threadID string, outcome runOutcome) {
	ev := events.Event{
		ThreadID: threadID,
		Node:     orchestrator.NodeSystem,
		At:       time.Now().UTC(),
	}
	if outcome.err != nil {
		ev.Type = events.TypeError
		ev.Content = outcome.err.Error()
	} else {
		ev.Type = events.TypeComplete
		if outcome.res != nil {
			ev.Content = outcome.res.Draft
			ev.Score = outcome.res.Score
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "event: %s\n", ev.Type)
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
}

func bindResearchRequest(c echo.Context) (*ResearchRequest, error) {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" && req.ThreadID == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	return &req, nil
}

// eventTypeFromSubject extracts the event type from a step-event subject
// ("research.<thread>.<type>").
func eventTypeFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return events.TypeMessage
	}
	return parts[len(parts)-1]
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// Returns http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the router for tests and route extension.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// requestLogger logs one line per completed request.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	})
}
