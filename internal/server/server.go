package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/failure"
)

// Handler registers a group of routes on the server.
type Handler interface {
	Register(e *echo.Echo)
}

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Error *failure.Error `json:"error"`
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

func NewServer(log *slog.Logger, cfg config.Config, resolver *auth.Resolver, handlers []Handler) *Server {
	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{addr: addr, logger: log.With(slog.String("component", "server"))}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	}))
	if timeout := cfg.Workflow.DefaultTimeout(); timeout > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
			Timeout:      timeout,
			ErrorHandler: deadlineError,
		}))
	}
	skipper := func(c echo.Context) bool { return shouldSkipAuth(c.Request().URL.Path) }
	e.Use(auth.JWTMiddleware(cfg.Auth.SecretKey, cfg.Auth.Algorithm, skipper))
	e.Use(resolver.Middleware(skipper))
	if limiter := rateLimiter(cfg.Server); limiter != nil {
		e.Use(limiter)
	}

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	s.echo = e
	return s
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// deadlineError reports a request that outlived the workflow timeout as a
// timeout unless a handler already classified it.
func deadlineError(err error, c echo.Context) error {
	var fe *failure.Error
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &fe) {
		return failure.Wrap(failure.Timeout, err, "request deadline exceeded")
	}
	return err
}

func shouldSkipAuth(path string) bool {
	switch path {
	case "/ping", "/health":
		return true
	}
	return strings.HasPrefix(path, "/api/v1/auth/")
}

// rateLimiter caps inbound requests per principal, falling back to the
// client address for unauthenticated routes.
func rateLimiter(cfg config.ServerConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if p, ok := auth.PrincipalFrom(c.Request().Context()); ok {
				return "user:" + p.User.ID.String(), nil
			}
			return "ip:" + c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return failure.New(failure.Forbidden, "unable to identify caller")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return failure.New(failure.RateLimited, "too many requests").
				WithDetails(map[string]any{"requests_per_minute": cfg.RequestsPerMinute})
		},
	})
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var (
		fe     *failure.Error
		he     *echo.HTTPError
		status int
	)
	switch {
	case errors.As(err, &fe):
		status = failure.HTTPStatus(fe.Kind)
	case errors.As(err, &he):
		status = he.Code
		fe = failure.New(failure.KindForStatus(he.Code), "%s", httpErrorMessage(he))
	default:
		fe = failure.As(err)
		status = failure.HTTPStatus(fe.Kind)
	}

	if fe.Kind == failure.Internal {
		s.logger.Error("request failed",
			slog.String("method", c.Request().Method),
			slog.String("uri", c.Request().RequestURI),
			slog.Any("error", err),
		)
		fe = failure.New(failure.Internal, "internal error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: fe})
	}
	if err != nil {
		s.logger.Warn("write error response", slog.Any("error", err))
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	if he.Message == nil {
		return http.StatusText(he.Code)
	}
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return fmt.Sprint(he.Message)
}

type requestValidator struct {
	validate *validator.Validate
}

// NewValidator returns an echo.Validator that reports struct tag
// violations as validation failures listing each offending field.
func NewValidator() echo.Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (r *requestValidator) Validate(i any) error {
	err := r.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return failure.Wrap(failure.Validation, err, "invalid request")
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return failure.New(failure.Validation, "invalid request").WithDetails(map[string]any{"fields": fields})
}
