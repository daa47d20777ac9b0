package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/curator/internal/telemetry"
)

// Run serves the ops surface: health, prometheus metrics and the last cycle
// result. The curated feed's web front end lives elsewhere; this endpoint
// set exists for operators only.
func Run(addr string, tele *telemetry.Telemetry) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/cycles/last", func(c echo.Context) error {
		last := tele.LastCycle()
		if last == nil {
			return echo.NewHTTPError(http.StatusNotFound, "no cycle has run yet")
		}
		return c.JSON(http.StatusOK, last)
	})

	baseLogger.Printf("ops server listening on %s", addr)
	return e.Start(addr)
}
