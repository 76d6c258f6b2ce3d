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

	"gochat/internal/config"
	"gochat/internal/models"
	"gochat/internal/provider"
	"gochat/internal/provider/openai"
	"gochat/internal/session"
	"gochat/internal/translator"
)

const (
	maxBodyBytes        = 32 << 20 // 32 MiB, images travel inline as data URLs
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	conversationHeader = "X-Conversation-ID"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, sessions *session.Manager) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("session manager must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogError:   true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if id := c.Response().Header().Get(conversationHeader); id != "" {
				attrs = append(attrs, "conversation", id)
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))

	srv := &Server{
		cfg:      cfg,
		sessions: sessions,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.cfg.API.Endpoint)
	slog.Info("starting server", "addr", s.address, "endpoint", s.cfg.API.Endpoint)

	// No write timeout: completions stream for as long as the model keeps talking.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
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
	s.app.GET("/api/models", s.handleModels)
	s.app.GET("/api/models/:id", s.handleModel)
	s.app.POST("/api/chat", s.handleChat)
	s.app.POST("/api/conversations/:id/cancel", s.handleCancel)
	s.app.DELETE("/api/conversations/:id", s.handleClose)

	if s.cfg.Server.StaticDir != "" {
		s.app.Static("/", s.cfg.Server.StaticDir)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"conversations": s.sessions.Len(),
	})
}

func (s *Server) handleModels(c echo.Context) error {
	list, err := s.sessions.Models(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromModels(list))
}

func (s *Server) handleModel(c echo.Context) error {
	m, err := s.sessions.Model(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromModel(m))
}

func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	id, sess, err := s.sessions.Open(req.ConversationID)
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set(conversationHeader, id)

	stream, err := newEventStream(c, id)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	err = sess.SendStreamed(ctx, req.Settings(), req.ToDomain(), func(text string, files []models.FileReference) {
		if writeErr := stream.send("delta", translator.FromDelta(text, files)); writeErr != nil {
			slog.Error("failed to write SSE event", "event", "delta", "conversation", id, "err", writeErr)
		}
	})

	switch {
	case err == nil:
		return stream.send("done", map[string]string{"conversation_id": id})
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		slog.Debug("client went away mid-stream", "conversation", id)
		return nil
	case !stream.started:
		return toHTTPError(err)
	default:
		reqErr := toHTTPError(err)
		var payload errorBody
		payload.Error.Message = reqErr.Message
		payload.Error.Type = reqErr.Type
		payload.Error.Code = reqErr.Code
		return stream.send("error", payload)
	}
}

func (s *Server) handleCancel(c echo.Context) error {
	if err := s.sessions.Cancel(c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClose(c echo.Context) error {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
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
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func toHTTPError(err error) requestError {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if errors.Is(err, session.ErrInvalidID) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, session.ErrUnknownSession) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "not_found_error",
		}
	}
	if errors.Is(err, openai.ErrSessionClosed) {
		return requestError{
			Status:  http.StatusConflict,
			Message: err.Error(),
			Type:    "invalid_request_error",
			Code:    "CONVERSATION_CLOSED",
		}
	}

	pe := provider.AsError(err)
	if pe.Kind == provider.KindUnknown {
		slog.Error("unexpected adapter error", "err", err)
	}
	return requestError{
		Status:  pe.Status,
		Message: pe.Message,
		Type:    errorType(pe.Kind),
		Code:    pe.Code(),
	}
}

func errorType(kind provider.Kind) string {
	switch kind {
	case provider.KindModelNotFound, provider.KindInvalidEndpoint:
		return "invalid_request_error"
	case provider.KindAPI, provider.KindFetchModelsFailed:
		return "upstream_error"
	default:
		return "server_error"
	}
}

func printStartupBanner(port int, endpoint string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("gochat ready")
	fmt.Printf("Listening on http://%s:%d (upstream %s)\n", host, port, endpoint)
	fmt.Println("Endpoints:")
	fmt.Println("  GET    /health")
	fmt.Println("  GET    /api/models")
	fmt.Println("  GET    /api/models/:id")
	fmt.Println("  POST   /api/chat")
	fmt.Println("  POST   /api/conversations/:id/cancel")
	fmt.Println("  DELETE /api/conversations/:id")
	fmt.Printf("Example:\n  curl -N http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
