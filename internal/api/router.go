package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/mediafetch/internal/api/controllers"
	"github.com/datallboy/mediafetch/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobCtrl := &controllers.JobController{App: app}
	blobCtrl := &controllers.BlobController{App: app}

	e.POST("/api/acquire", jobCtrl.Submit)
	e.GET("/api/jobs", jobCtrl.List)
	e.GET("/api/jobs/:id", jobCtrl.Get)
	e.DELETE("/api/jobs/:id", jobCtrl.Cancel)

	// Local buffers for the local extraction strategy
	e.POST("/api/blobs", blobCtrl.Upload)
	e.DELETE("/api/blobs/:ref", blobCtrl.Delete)

	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))
	e.GET("/health", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "capture": app.CaptureEnabled})
	})
}
