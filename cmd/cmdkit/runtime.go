package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/cmdkit/examples/echo"
	"github.com/Mindburn-Labs/cmdkit/pkg/artifacts"
	"github.com/Mindburn-Labs/cmdkit/pkg/bridge"
	"github.com/Mindburn-Labs/cmdkit/pkg/config"
	"github.com/Mindburn-Labs/cmdkit/pkg/database"
	"github.com/Mindburn-Labs/cmdkit/pkg/deploy"
	"github.com/Mindburn-Labs/cmdkit/pkg/events"
	"github.com/Mindburn-Labs/cmdkit/pkg/host"
	"github.com/Mindburn-Labs/cmdkit/pkg/host/sqlhost"
	"github.com/Mindburn-Labs/cmdkit/pkg/observability"
	"github.com/Mindburn-Labs/cmdkit/pkg/protocol"
	"github.com/Mindburn-Labs/cmdkit/pkg/signature"
)

// runtime is the wired host engine and deployer shared by every subcommand.
type runtime struct {
	engine   host.Engine
	registry *deploy.Registry

	db        *sql.DB
	locator   *database.Locator
	telemetry *observability.Provider
	closers   []io.Closer
}

// openRuntime loads configuration and wires the host. On failure it reports
// to stderr and returns a nil runtime with the exit code to use.
func openRuntime(ctx context.Context, stderr io.Writer) (*runtime, int) {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: config: %v\n", err)
		return nil, 2
	}
	setupLogging(cfg, stderr)

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	return rt, 0
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := slog.Default().With("component", "cmdkit")
	rt := &runtime{}

	if cfg.LiteMode() {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		logger.Info("lite mode: using sqlite", "path", filepath.Join(cfg.DataDir, "cmdkit.db"))
	}

	algorithm, err := signature.ParseAlgorithm(cfg.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	rt.telemetry = telemetry

	db, dialect, err := database.Open(ctx, cfg.DatabaseDSN())
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.db = db

	blobs, err := artifacts.NewStore(ctx, artifacts.StoreConfig{
		Type:     artifacts.StoreType(cfg.ArtifactStore),
		Dir:      filepath.Join(cfg.DataDir, "blobs"),
		Bucket:   cfg.ArtifactBucket,
		Region:   cfg.ArtifactRegion,
		Endpoint: cfg.ArtifactEndpoint,
		Prefix:   cfg.ArtifactPrefix,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to init artifact store: %w", err)
	}
	if c, ok := blobs.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	rt.locator = database.NewLocator(cfg.InventoryDatasources(), nil)
	h := sqlhost.New(db, dialect, blobs, rt.locator)
	if err := h.Init(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to init host schema: %w", err)
	}
	rt.engine = h.Engine()

	var accessors bridge.AccessorFactory = bridge.StaticAccessorFactory{Engine: rt.engine}
	if cfg.AccessorSigningKey != "" {
		tokens, err := bridge.NewTokenAccessorFactory([]byte(cfg.AccessorSigningKey), cfg.BridgeTimeout, rt.engine)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		accessors = tokens
	}
	br := bridge.New(accessors,
		bridge.WithTimeout(cfg.BridgeTimeout),
		bridge.WithDetachedLimit(cfg.BridgeDetachedRPS, 1),
	)
	echo.Bind(&h.Bindings, br, protocol.WithRecorder(telemetry))

	opts := []deploy.Option{
		deploy.WithSigner(signature.New(algorithm)),
		deploy.WithRecorder(telemetry),
		deploy.WithSink(events.NewLogSink()),
	}
	if cfg.RedisAddr != "" {
		locker := deploy.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, cfg.LockWait)
		if err := locker.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, deployments are serialized in-process only", "addr", cfg.RedisAddr, "error", err)
		} else {
			opts = append(opts, deploy.WithLocker(locker))
		}
	}
	rt.registry = deploy.NewRegistry(opts...)
	return rt, nil
}

// Close releases connections and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) {
	logger := slog.Default().With("component", "cmdkit")
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	if rt.locator != nil {
		_ = rt.locator.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}
