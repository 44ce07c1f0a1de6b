package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/api"
	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/audit"
	"github.com/aspen-pdp/aspen/config"
	"github.com/aspen-pdp/aspen/logger"
	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/prp"
	"github.com/aspen-pdp/aspen/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting Aspen Policy Decision Service",
		zap.Int("port", cfg.Port),
		zap.String("policies", cfg.PoliciesPath),
		zap.String("algorithm", cfg.CombiningAlgorithm),
	)

	// Policy retrieval over a watched directory
	source, err := prp.NewDirectorySource(cfg.PoliciesPath, logger.Log)
	if err != nil {
		logger.Log.Fatal("failed to load policy documents", zap.Error(err))
	}
	defer source.Close()

	// Telemetry
	tel, err := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "aspen",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   1.0,
		Enabled:        true,
	})
	if err != nil {
		logger.Log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	sinks := []pdp.DecisionSink{tel}

	// Audit trail
	var trail audit.Store
	if cfg.AuditEnabled {
		store, err := audit.NewStorage(cfg.DBType, cfg.DSN)
		if err != nil {
			logger.Log.Fatal("failed to initialize audit store", zap.Error(err))
		}
		trail = store
		sinks = append(sinks, audit.NewRecorder(store, logger.Log))
	}

	// Decision engine
	engine, err := pdp.New(source,
		pdp.WithCombiningAlgorithm(ast.CombiningAlgorithm(cfg.CombiningAlgorithm)),
		pdp.WithEvaluationTimeout(cfg.EvalTimeout),
		pdp.WithVariables(cfg.Variables),
		pdp.WithLogger(logger.Log),
		pdp.WithTracer(tel.Tracer()),
		pdp.WithDecisionSink(pdp.MultiSink(sinks...)),
	)
	if err != nil {
		logger.Log.Fatal("failed to initialize decision engine", zap.Error(err))
	}

	// Count policy reloads picked up by the directory watcher.
	go func() {
		for range source.Subscribe() {
			tel.PoliciesReloaded(context.Background())
		}
	}()

	// Initialize Handler
	h := api.NewHandler(engine, source, trail, tel, logger.Log)

	// Setup Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]any{"status": "ok", "documents": len(source.Documents())})
	})
	g := e.Group("/api/pdp")
	h.RegisterRoutes(g)

	logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server failed to start", zap.Error(err))
	}
}
