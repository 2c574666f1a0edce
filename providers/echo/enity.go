package echo

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/soldatov-s/poolingex/base"
	"golang.org/x/sync/errgroup"
)

const (
	ProviderName = "echo"
	MetricsPath  = "/metrics"
)

var (
	ErrEmptyHTTPHandler  = errors.New("empty http handler")
	ErrUnknownHTTPMethod = errors.New("unknown http method")
)

// Enity describes every HTTP server's structure and configuration.
type Enity struct {
	*base.Enity
	*base.MetricsStorage
	config *Config
	server *echo.Echo

	prometheusMiddleware echo.MiddlewareFunc

	mu       sync.Mutex
	listener net.Listener
	group    *errgroup.Group
}

// NewEnity configures structure and creates new echo HTTP server.
func NewEnity(ctx context.Context, name string, config *Config, middlewares ...echo.MiddlewareFunc) (*Enity, error) {
	if config == nil {
		return nil, base.ErrInvalidEnityOptions
	}

	e := &Enity{
		Enity: base.NewEnity(&base.EnityDeps{
			ProviderName: ProviderName,
			Name:         name,
		}),
		MetricsStorage: base.NewMetricsStorage(),
		config:         config.SetDefault(),
	}

	if err := e.buildMetrics(ctx); err != nil {
		return nil, errors.Wrap(err, "build metrics")
	}

	e.server = e.config.NewEcho()
	e.server.Use(e.prometheusMiddleware)
	e.server.Use(middlewares...)

	return e, nil
}

func (e *Enity) GetConfig() *Config {
	return e.config
}

func (e *Enity) GetServer() *echo.Echo {
	return e.server
}

// RegisterEndpoint registers a plain http.Handler.
func (e *Enity) RegisterEndpoint(method, endpoint string, handler http.Handler) error {
	if handler == nil {
		return ErrEmptyHTTPHandler
	}

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return errors.Wrapf(ErrUnknownHTTPMethod, "%q", method)
	}

	e.server.Add(method, endpoint, echo.WrapHandler(handler))

	return nil
}

// Addr returns the address the server listens on, nil before Start.
func (e *Enity) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Start starts HTTP server listening.
func (e *Enity) Start(ctx context.Context) error {
	logger := e.GetLogger(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", e.config.Address)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	e.listener = listener
	e.server.Listener = listener

	e.group = &errgroup.Group{}
	e.group.Go(func() error {
		logger.Info().Str("address", listener.Addr().String()).Msg("starting server...")
		if err := e.server.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped with error")
			return errors.Wrap(err, "start server")
		}
		return nil
	})

	return nil
}

// Shutdown stops HTTP server.
func (e *Enity) Shutdown(ctx context.Context) error {
	logger := e.GetLogger(ctx)
	logger.Info().Msg("shutting down server...")
	e.SetShuttingDown(true)

	e.mu.Lock()
	group := e.group
	started := e.listener != nil
	e.mu.Unlock()

	if !started {
		return nil
	}

	if err := e.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown server")
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
