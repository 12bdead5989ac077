// Package httpapi is the local HTTP daemon that browser-side collaborators
// (content scripts, popups) call into.
package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/service"
)

// maxBodyBytes bounds request bodies; screenshots arrive base64 encoded.
const maxBodyBytes = 20 << 20

// Translator is the subset of *service.Service the daemon needs.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (service.Result, error)
	TranslateScreenshot(ctx context.Context, image []byte, mimeType, targetLanguage string) (service.Result, error)
	Status() []keypool.Status
}

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// DefaultLanguage supplies the target language when a request omits it.
	DefaultLanguage func() string
}

type Server struct {
	svc    Translator
	logger zerolog.Logger
	opts   Options
	echo   *echo.Echo
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type screenshotRequest struct {
	Image          string `json:"image"`
	MIMEType       string `json:"mime_type"`
	TargetLanguage string `json:"target_language"`
}

type errorBody struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func NewServer(svc Translator, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = "127.0.0.1:8765"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.DefaultLanguage == nil {
		opts.DefaultLanguage = func() string { return "en" }
	}

	s := &Server{svc: svc, logger: logger, opts: opts}
	s.echo = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxBodyBytes/(1<<20)) + "M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Info()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/credentials", s.handleCredentials)
	api.POST("/translate", s.handleTranslate)
	api.POST("/translate/screenshot", s.handleScreenshot)
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.echo,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("glossa daemon started")
	if err := s.echo.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("glossa daemon stopped")
	return nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(c echo.Context) error {
	status := s.svc.Status()
	available := 0
	for _, st := range status {
		if st.Healthy && !st.RateLimited {
			available++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"service":        "glossa",
		"time":           time.Now().UTC(),
		"keys":           len(status),
		"keys_available": available,
	})
}

func (s *Server) handleCredentials(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"items": s.svc.Status()})
}

func (s *Server) handleTranslate(c echo.Context) error {
	var req translateRequest
	if err := s.bind(c, schemaTranslate, &req); err != nil {
		return err
	}

	res, err := s.svc.Translate(c.Request().Context(), req.Text, s.language(req.TargetLanguage))
	if err != nil {
		return s.translationFailed(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleScreenshot(c echo.Context) error {
	var req screenshotRequest
	if err := s.bind(c, schemaScreenshot, &req); err != nil {
		return err
	}

	image, mimeType, err := decodeImage(req.Image)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Message: err.Error()})
	}
	if req.MIMEType != "" {
		mimeType = req.MIMEType
	}

	res, err := s.svc.TranslateScreenshot(c.Request().Context(), image, mimeType, s.language(req.TargetLanguage))
	if err != nil {
		return s.translationFailed(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// bind reads and schema-validates the request body into dst.
func (s *Server) bind(c echo.Context, schemaName string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if err := decodeValidated(schemaName, raw, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func (s *Server) language(requested string) string {
	if lang := strings.TrimSpace(requested); lang != "" {
		return lang
	}
	return s.opts.DefaultLanguage()
}

// translationFailed maps a dispatch failure to a status code and a
// localized message.
func (s *Server) translationFailed(c echo.Context, err error) error {
	status := http.StatusBadGateway
	var de *dispatch.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case dispatch.KindEmptyInput:
			status = http.StatusBadRequest
		case dispatch.KindNoCredentials:
			status = http.StatusServiceUnavailable
		case dispatch.KindExhausted, dispatch.KindRateLimited:
			status = http.StatusTooManyRequests
			if de.RetryAfter > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(de.RetryAfter.Seconds()))))
			}
		case dispatch.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	s.logger.Warn().Err(err).Str("kind", string(dispatch.KindOf(err))).Msg("translation failed")
	return c.JSON(status, errorBody{Kind: string(dispatch.KindOf(err)), Message: service.UserMessage(err)})
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok && strings.TrimSpace(m) != "" {
			message = m
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}
	if status >= 500 {
		s.logger.Error().Err(err).Msg("internal error")
		message = "Internal server error"
	}
	_ = c.JSON(status, errorBody{Message: message})
}

// decodeImage accepts raw base64 or a data URL and returns the bytes and
// the MIME type from the data URL, if any.
func decodeImage(s string) ([]byte, string, error) {
	mimeType := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("image data URL must be base64 encoded")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", fmt.Errorf("image is not valid base64: %w", err)
	}
	return data, mimeType, nil
}
