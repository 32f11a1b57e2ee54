// Package server exposes the orchestrator to the UI layer over a local
// HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"epitelos/internal/archive"
	"epitelos/internal/config"
	"epitelos/internal/provider"
	"epitelos/internal/runner"
	"epitelos/internal/source"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server is the UI-facing HTTP surface.
type Server struct {
	cfg      config.Config
	orch     *runner.Orchestrator
	resolver *source.Resolver
	archives *archive.Store
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, orch *runner.Orchestrator, resolver *source.Resolver, archives *archive.Store) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:      cfg,
		orch:     orch,
		resolver: resolver,
		archives: archives,
		app:      e,
		address:  fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		// No write timeout: the response SSE stream stays open for the
		// lifetime of a generation.
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.orch.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.POST("/run", s.handleRun)
	api.POST("/stop", s.handleStop)
	api.GET("/response", s.handleResponse)
	api.GET("/response/stream", s.handleResponseStream)
	api.POST("/verify", s.handleVerify)
	api.GET("/models", s.handleModels)
	api.GET("/functions", s.handleFunctions)
	api.GET("/contexts", s.handleContexts)
	api.GET("/archives", s.handleArchives)
	api.POST("/archives", s.handleArchiveSave)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type runRequest struct {
	FunctionID    string   `json:"function_id"`
	SystemPrompt  string   `json:"system_prompt"`
	Input         string   `json:"input"`
	ContextIDs    []string `json:"context_ids"`
	Streaming     *bool    `json:"streaming"`
	ShowReasoning *bool    `json:"show_reasoning"`
}

// handleRun is fire-and-forget: it launches the run and returns
// immediately; progress is observed via /api/response. Starting while a
// run is active is a documented no-op, still answered with 202.
func (s *Server) handleRun(c echo.Context) error {
	var req runRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.FunctionID == "" && req.SystemPrompt == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "either function_id or system_prompt is required",
		}
	}

	s.orch.Start(runner.RunParams{
		FunctionID:    req.FunctionID,
		SystemPrompt:  req.SystemPrompt,
		Input:         req.Input,
		ContextIDs:    req.ContextIDs,
		Streaming:     req.Streaming,
		ShowReasoning: req.ShowReasoning,
	})
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStop(c echo.Context) error {
	s.orch.Stop()
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResponse(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Snapshot())
}

type verifyRequest struct {
	Provider string `json:"provider"`
}

type verifyResponse struct {
	Verification *runner.VerificationStatus `json:"verification"`
	Models       []string                   `json:"models"`
}

// handleVerify checks the requested provider and refreshes the model
// list. Check failures are reported in the payload, never as an HTTP
// error.
func (s *Server) handleVerify(c echo.Context) error {
	var req verifyRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Provider == "" {
		req.Provider = s.orch.Config().Provider
	}

	s.orch.VerifyAndLoadModels(c.Request().Context(), provider.Kind(req.Provider))
	return c.JSON(http.StatusOK, verifyResponse{
		Verification: s.orch.Verification(),
		Models:       s.orch.Models(),
	})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"models": s.orch.Models()})
}

type functionSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleFunctions(c echo.Context) error {
	cfg := s.orch.Config()
	functions := make([]functionSummary, 0, len(cfg.Functions))
	for _, fn := range cfg.Functions {
		functions = append(functions, functionSummary{ID: fn.ID, Name: fn.Name})
	}
	return c.JSON(http.StatusOK, map[string][]functionSummary{"functions": functions})
}

func (s *Server) handleContexts(c echo.Context) error {
	sources := s.resolver.Sources()
	visible := sources[:0]
	for _, src := range sources {
		if !src.Hidden {
			visible = append(visible, src)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"contexts": visible})
}

func (s *Server) handleArchives(c echo.Context) error {
	entries, err := s.archives.List()
	if err != nil {
		return requestError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	return c.JSON(http.StatusOK, map[string][]archive.Entry{"archives": entries})
}

type archiveSaveRequest struct {
	FunctionName string `json:"function_name"`
}

// handleArchiveSave archives the current response text.
func (s *Server) handleArchiveSave(c echo.Context) error {
	var req archiveSaveRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	state := s.orch.Snapshot()
	if state.Status != runner.StatusCompleted && state.Status != runner.StatusAborted {
		return requestError{
			Status:  http.StatusConflict,
			Message: "no finished response to archive",
		}
	}

	entry, err := s.archives.Save(req.FunctionName, s.orch.Config().Model, state.Text)
	if err != nil {
		return requestError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	return c.JSON(http.StatusCreated, entry)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message string) error {
	var payload errorBody
	payload.Error.Message = message
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = writeError(c, httpErr.Code, fmt.Sprintf("%v", httpErr.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error")
}
