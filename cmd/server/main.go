package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"assetdesk/backend/internal/api"
	"assetdesk/backend/internal/auth"
	"assetdesk/backend/internal/catalog"
	"assetdesk/backend/internal/config"
	"assetdesk/backend/internal/logging"
	"assetdesk/backend/internal/mcp"
	"assetdesk/backend/internal/observability"
	"assetdesk/backend/internal/repository"
	"assetdesk/backend/internal/services"
	"assetdesk/backend/internal/tls"
)

const serviceName = "assetdesk-tour"

var version = "dev"

func main() {
	var envFile string
	root := &cobra.Command{
		Use:           "server",
		Short:         "Onboarding tour backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tour API, websocket stream and MCP tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, envFile)
		},
	}
	root.AddCommand(serve)
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"okta_client_id", cfg.Auth.ClientID,
		"okta_domain", cfg.Auth.OktaDomain,
		"secret_len", len(cfg.Auth.ClientSecret),
		"swagger_client_id", cfg.Auth.SwaggerClientID,
		"config_file", viper.ConfigFileUsed(),
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from /docs will fail if the backend is a confidential web app")
	}

	shutdownTelemetry, err := observability.Setup(ctx, serviceName, cfg.OTel.Endpoint, cfg.OTel.Enabled)
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	kv, closeKV, err := repository.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	defer closeKV()
	logger.Info("Progress storage connected", "driver", cfg.DB.Driver)

	scripts, err := catalog.Load(cfg.Tour.CatalogFile)
	if err != nil {
		return err
	}

	metrics, err := observability.NewTourMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("metrics setup failed: %w", err)
	}

	tours := services.NewTourService(scripts, kv, services.Config{
		LoginRoute:    cfg.Tour.LoginRoute,
		PollInterval:  cfg.PollInterval(),
		TargetTimeout: cfg.TargetTimeout(),
		SessionTTL:    cfg.Tour.SessionTTL,
	}, services.WithLogger(logger.With("component", "tour")), services.WithObserver(metrics))

	authz, err := auth.New(ctx, cfg, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if authz.Bypass() {
		logger.Warn("Authentication bypass is enabled", "dev_role", cfg.Auth.DevRole)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(api.NewHandler(kv, version).HandleHealth)))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(tours, logger.With("component", "api")))
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(tours)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(http.HandlerFunc(api.SpecHandler(cfg.Auth.OktaDomain))))
	e.GET("/docs", echo.WrapHandler(http.HandlerFunc(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID))))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	port := cfg.Port
	if cfg.TLS.Enable && port == 8080 {
		port = 8443
	}
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		// No write timeout: websocket streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("TLS enabled but cert/key file not provided")
		}
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable, "version", version)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return tours.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
