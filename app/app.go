package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/soldatov-s/poolingex/base"
	"github.com/soldatov-s/poolingex/log"
	"github.com/soldatov-s/poolingex/x/httpx"
	"golang.org/x/sync/errgroup"
)

const (
	ReadyEndpoint   = "/health/ready"
	AliveEndpoint   = "/health/alive"
	MetricsEndpoint = "/metrics"

	notStartedCode = "NOT_STARTED"
)

var (
	ErrAppendMetrics            = errors.New("failed to append metrics")
	ErrAliveHandlers            = errors.New("failed to append alive handlers")
	ErrReadyHandlers            = errors.New("failed to append ready handlers")
	ErrNotFindStatsHTTP         = errors.New("not find http server for stats")
	ErrFailedTypeCastHTTPServer = errors.New("failed typecast to http server")
	ErrNotStarted               = errors.New("application is not started")
)

type HTTPServer interface {
	RegisterEndpoint(method, endpoint string, handler http.Handler) error
}

type EnityMetricsGateway interface {
	GetMetrics() *base.MapMetricsOptions
}

type EnityAliveGateway interface {
	GetAliveHandlers() *base.MapCheckOptions
}

type EnityReadyGateway interface {
	GetReadyHandlers() *base.MapCheckOptions
}

type EnityGateway interface {
	Shutdown(ctx context.Context) error
	Start(ctx context.Context) error
	GetFullName() string
}

type ManagerDeps struct {
	Meta               *MetaDeps
	StatsHTTPEnityName string
	Logger             *log.Logger
	ErrorGroup         *errgroup.Group
}

// Manager starts enities in the order they were added, stops them in
// reverse order and serves their statistics.
type Manager struct {
	*base.MetricsStorage
	*base.ReadyCheckStorage
	*base.AliveCheckStorage
	meta               *Meta
	mu                 sync.Mutex
	enities            map[string]EnityGateway
	enitiesOrder       []string
	started            bool
	statsHTTPEnityName string
	register           prometheus.Registerer
	gatherer           prometheus.Gatherer
	logger             *log.Logger
	signals            []os.Signal
	errorGroup         *errgroup.Group
}

type ManagerOption func(*Manager)

// WithCustomRegistry sets registry used for metrics instead of the
// prometheus default one.
func WithCustomRegistry(registry *prometheus.Registry) ManagerOption {
	return func(c *Manager) {
		c.register = registry
		c.gatherer = registry
	}
}

func WithCustomSignals(signals []os.Signal) ManagerOption {
	return func(c *Manager) {
		c.signals = signals
	}
}

func NewManager(deps *ManagerDeps, opts ...ManagerOption) *Manager {
	app := &Manager{
		MetricsStorage:     base.NewMetricsStorage(),
		AliveCheckStorage:  base.NewAliveCheckStorage(),
		ReadyCheckStorage:  base.NewReadyCheckStorage(),
		meta:               NewMeta(deps.Meta),
		enities:            make(map[string]EnityGateway),
		enitiesOrder:       make([]string, 0, 16),
		statsHTTPEnityName: deps.StatsHTTPEnityName,
		register:           prometheus.DefaultRegisterer,
		gatherer:           prometheus.DefaultGatherer,
		logger:             deps.Logger,
		signals:            defaultOSSignals(),
		errorGroup:         deps.ErrorGroup,
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

func defaultOSSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}
}

func (a *Manager) Meta() *Meta {
	return a.meta
}

type ErrSignal struct {
	Signal os.Signal
}

func (e ErrSignal) Error() string {
	return fmt.Sprintf("got error signal %s", e.Signal.String())
}

func (a *Manager) OSSignalWaiter(ctx context.Context) error {
	logger := a.logger.Zerolog()
	closeSignal := make(chan os.Signal, 1)
	signal.Notify(closeSignal, a.signals...)

	a.errorGroup.Go(func() error {
		defer signal.Stop(closeSignal)

		select {
		case s := <-closeSignal:
			logger.Info().Msgf("got os signal: %s", s.String())
			if err := a.Shutdown(ctx); err != nil {
				return errors.Wrap(err, "shutdown app")
			}
			return ErrSignal{Signal: s}
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return nil
}

// Loop is application loop
func (a *Manager) Loop(ctx context.Context) error {
	logger := a.logger.Zerolog()
	if err := a.errorGroup.Wait(); err != nil {
		switch {
		case isExitSignal(err):
			logger.Info().Msg("exited by exit signal")
		default:
			return errors.Wrap(err, "exited with error")
		}
	}
	return nil
}

func isExitSignal(err error) bool {
	errSig := ErrSignal{}
	return errors.As(err, &errSig)
}

// Start registers statistic endpoints on the stats HTTP server, then
// starts enities. Metrics and checks of enities are collected after
// they started, some of them are known only then.
func (a *Manager) Start(ctx context.Context) error {
	a.logger.Zerolog().Info().
		Str("name", a.meta.Name).
		Str("build", a.meta.BuildInfo()).
		Msg("starting application...")

	if a.statsHTTPEnityName != "" {
		if err := a.registerStatsEndpoints(ctx); err != nil {
			return errors.Wrap(err, "register stats endpoints")
		}
	}

	for _, k := range a.order() {
		if err := a.enities[k].Start(ctx); err != nil {
			return errors.Wrapf(err, "start enity %q", k)
		}
	}

	if err := a.collectStatistic(ctx); err != nil {
		return errors.Wrap(err, "collect statistics")
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	return nil
}

func (a *Manager) Shutdown(ctx context.Context) error {
	order := a.order()
	for i := len(order) - 1; i >= 0; i-- {
		if err := a.enities[order[i]].Shutdown(ctx); err != nil {
			return errors.Wrapf(err, "shutdown enity %q", order[i])
		}
	}
	return nil
}

func (a *Manager) Add(ctx context.Context, e EnityGateway) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.enities[e.GetFullName()]; ok {
		return base.ErrConflictName
	}

	a.enities[e.GetFullName()] = e
	a.enitiesOrder = append(a.enitiesOrder, e.GetFullName())

	return nil
}

func (a *Manager) order() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	order := make([]string, len(a.enitiesOrder))
	copy(order, a.enitiesOrder)
	return order
}

func (a *Manager) isStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.started
}

func (a *Manager) collectStatistic(_ context.Context) error {
	for _, k := range a.order() {
		e := a.enities[k]

		if v, ok := e.(EnityMetricsGateway); ok {
			if err := a.MetricsStorage.GetMetrics().Append(v.GetMetrics()); err != nil {
				return errors.Wrap(ErrAppendMetrics, err.Error())
			}
		}

		if v, ok := e.(EnityAliveGateway); ok {
			if err := a.AliveCheckStorage.GetAliveHandlers().Append(v.GetAliveHandlers()); err != nil {
				return errors.Wrap(ErrAliveHandlers, err.Error())
			}
		}

		if v, ok := e.(EnityReadyGateway); ok {
			if err := a.ReadyCheckStorage.GetReadyHandlers().Append(v.GetReadyHandlers()); err != nil {
				return errors.Wrap(ErrReadyHandlers, err.Error())
			}
		}
	}

	// Registrate metrics
	if err := a.MetricsStorage.GetMetrics().Registrate(a.register); err != nil {
		return errors.Wrap(err, "registrate metrics")
	}

	if err := a.logger.GetMetrics().Registrate(a.register); err != nil {
		return errors.Wrap(err, "registrate logger metrics")
	}

	return nil
}

func (a *Manager) registerStatsEndpoints(ctx context.Context) error {
	a.mu.Lock()
	enity, ok := a.enities[a.statsHTTPEnityName]
	a.mu.Unlock()
	if !ok {
		return ErrNotFindStatsHTTP
	}

	httpSrv, ok := enity.(HTTPServer)
	if !ok {
		return ErrFailedTypeCastHTTPServer
	}

	if err := httpSrv.RegisterEndpoint(
		http.MethodGet,
		MetricsEndpoint,
		a.MetricsHandler(ctx, a.gatherer),
	); err != nil {
		return errors.Wrap(err, "registrate prometheus endpoint")
	}

	// Registrate alive
	if err := httpSrv.RegisterEndpoint(
		http.MethodGet,
		AliveEndpoint,
		a.checkHandler(ctx, a.AliveCheckStorage.GetAliveHandlers()),
	); err != nil {
		return errors.Wrap(err, "registrate alive endpoint")
	}

	// Registrate ready
	if err := httpSrv.RegisterEndpoint(
		http.MethodGet,
		ReadyEndpoint,
		a.checkHandler(ctx, a.ReadyCheckStorage.GetReadyHandlers()),
	); err != nil {
		return errors.Wrap(err, "registrate ready endpoint")
	}

	return nil
}

func (a *Manager) checkHandler(ctx context.Context, checks *base.MapCheckOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.isStarted() {
			httpx.WriteErrAnswer(ctx, w, ErrNotStarted, notStartedCode)
			return
		}

		if err := checks.Check(r.Context()); err != nil {
			code := notStartedCode
			var checkErr *base.CheckError
			if errors.As(err, &checkErr) {
				code = checkErr.Name
			}
			httpx.WriteErrAnswer(ctx, w, err, code)
			return
		}

		httpx.WriteResult(ctx, w, "ok")
	})
}
