package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Snapshot reports the terminals behind the admin surface. Ready is false
// while any terminal is disconnected.
type Snapshot func() (terminals any, ready bool)

// Route surfaces of the admin server.
const (
	SurfaceProbe  = "probe"
	SurfaceAdmin  = "admin"
	SurfaceScrape = "scrape"
	SurfaceOther  = "other"
)

func surfaceOf(route string) string {
	switch route {
	case "/health", "/ready":
		return SurfaceProbe
	case "/terminals":
		return SurfaceAdmin
	case "/metrics":
		return SurfaceScrape
	default:
		return SurfaceOther
	}
}

// accessLog records every admin request against the fleet. Probe and scrape
// traffic logs at debug; denied admin calls log as warnings.
func accessLog(fleet string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		surface := surfaceOf(route)
		elapsed := time.Since(start)
		RecordHTTPRequest(fleet, c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status == http.StatusUnauthorized:
			event = logger.Warn().Str("reason", "unauthorized")
		case status >= 400:
			event = logger.Warn()
		case surface == SurfaceProbe || surface == SurfaceScrape:
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event.
			Str("fleet", fleet).
			Str("surface", surface).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("admin_request")
	}
}

// NewRouter builds the admin HTTP surface of a fleet process. guard runs in
// front of /terminals only; health, readiness and metrics stay open.
func NewRouter(fleet string, logger zerolog.Logger, snapshot Snapshot, guard ...gin.HandlerFunc) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog(fleet, logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"service": fleet,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		_, ready := snapshot()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "service": fleet})
	})

	admin := r.Group("", guard...)
	admin.GET("/terminals", func(c *gin.Context) {
		terminals, _ := snapshot()
		c.JSON(http.StatusOK, gin.H{"terminals": terminals})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
