package echo

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func DefaultMiddlewares(ctx context.Context) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.Recover(),
		RequestID(ctx),
	}
}

func RequestID(ctx context.Context) echo.MiddlewareFunc {
	logger := zerolog.Ctx(ctx)
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Skipper: middleware.DefaultSkipper,
		Generator: func() string {
			id, err := uuid.NewRandom()
			if err != nil {
				logger.Err(err).Msg("generate request id")
				return ""
			}
			return id.String()
		},
	})
}

func (e *Enity) buildMetrics(_ context.Context) error {
	fullName := e.GetFullName()
	metrics := e.GetMetrics()

	reqCnt, err := metrics.AddCounterVec(fullName, "requests total",
		"How many HTTP requests processed, partitioned by status code and HTTP method.",
		[]string{"code", "method", "url"})
	if err != nil {
		return errors.Wrap(err, "add counter vec")
	}

	reqDur, err := metrics.AddHistogramVec(fullName, "request duration seconds",
		"The HTTP request latencies in seconds.",
		[]string{"code", "method", "url"})
	if err != nil {
		return errors.Wrap(err, "add histogram vec")
	}

	e.prometheusMiddleware = func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == MetricsPath {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var httpError *echo.HTTPError
				if errors.As(err, &httpError) {
					status = httpError.Code
				}
				if status == 0 || status == http.StatusOK {
					status = http.StatusInternalServerError
				}
			}

			statusStr := strconv.Itoa(status)
			reqDur.WithLabelValues(statusStr, c.Request().Method, c.Path()).Observe(time.Since(start).Seconds())
			reqCnt.WithLabelValues(statusStr, c.Request().Method, c.Path()).Inc()

			return err
		}
	}

	return nil
}
