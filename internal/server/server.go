package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/app"
	"github.com/mohammad-safakhou/marketbrain/internal/runtime"
)

// NewEcho builds the echo instance with the shared middleware, error
// handler, health check and metrics endpoint.
func NewEcho(logger *log.Logger, metrics http.Handler) *echo.Echo {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	registerDocs(e)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return e
}

// Run serves the API until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg.Server.AutoMigrate {
		dsn, err := runtime.BuildPostgresDSN(cfg)
		if err != nil {
			return err
		}
		if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, app.Options{ServiceName: "marketbrain-api", Background: true})
	if err != nil {
		return err
	}
	defer a.Close()
	a.StartBackground(ctx)

	e := NewEcho(nil, a.Telemetry.Handler())
	maxUpload := cfg.Server.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	// multipart overhead on top of the file itself
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", maxUpload/1024+1024)))

	kh := &KnowledgeHandler{
		Store:          a.Store,
		Search:         a.Engine,
		Multi:          a.MultiQuery,
		Books:          a.Pipeline,
		Runner:         a.Runner,
		Documents:      a.Documents,
		Training:       a.Summarizer,
		Types:          a.Parser,
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: maxUpload,
	}
	kh.Register(e.Group("/api/knowledge"), secret)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
