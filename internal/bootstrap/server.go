package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	httpecho "github.com/musaver/admintaxmahir-sub002/internal/interfaces/http/echo"
)

type ServerDeps struct {
	StartImport     app.StartImport
	GetImportStatus app.GetImportStatus
	MaxUploadBytes  int64
	Logger          *slog.Logger
}

func NewHTTPServer(deps ServerDeps) *echo.Echo {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = app.DefaultMaxUploadBytes
	}

	server := echo.New()
	server.HideBanner = true
	server.HidePort = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(requestLogger(deps.Logger))
	// Room for multipart framing on top of the file itself.
	server.Use(middleware.BodyLimit(fmt.Sprintf("%dK", deps.MaxUploadBytes>>10+1024)))

	importHandler := httpecho.NewImportHandler(deps.StartImport)
	statusHandler := httpecho.NewStatusHandler(deps.GetImportStatus)

	httpecho.RegisterRoutes(server, importHandler, statusHandler)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return server
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}
