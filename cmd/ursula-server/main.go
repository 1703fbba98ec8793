package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
	"github.com/AdalynJs/nucypher/observability"
	"github.com/AdalynJs/nucypher/pkg/discovery"
	"github.com/AdalynJs/nucypher/pkg/identity"
	"github.com/AdalynJs/nucypher/pkg/models"
	"github.com/AdalynJs/nucypher/pkg/repository"
	"github.com/AdalynJs/nucypher/pkg/repository/memory"
	"github.com/AdalynJs/nucypher/pkg/repository/postgres"
	"github.com/AdalynJs/nucypher/services/ursula"
)

var (
	// Command-line flags
	configFile = flag.String("config", "", "Path to configuration file")
	version    = flag.Bool("version", false, "Print version information")
)

const (
	ServiceName    = "ursula"
	ServiceVersion = "0.1.0"
)

// limiterIdle is how long a client's rate limiter survives without traffic.
const limiterIdle = 10 * time.Minute

func main() {
	flag.Parse()

	logger := logging.GetLogger()

	if *version {
		fmt.Printf("%s version %s\n", ServiceName, ServiceVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	cfg.Service.Version = ServiceVersion

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	logger.PrintBuildInfo(ServiceName, ServiceVersion)
	logConfiguration(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("%s exited: %v", ServiceName, err)
		os.Exit(1)
	}
	logger.Startup("%s stopped", ServiceName)
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	telemetry, err := observability.Init(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Telemetry partially unavailable: %v", err)
	}
	defer func() {
		if telemetry != nil {
			_ = telemetry.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	node, err := identity.NewLoader().Load(ctx, cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to load node identity: %w", err)
	}
	logger.Startup("Node identity %s (%x)", node.Name(), node.InterfaceKey()[:8])

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	backend, err := discovery.Open(cfg.Discovery)
	if err != nil {
		return fmt.Errorf("failed to open discovery backend: %w", err)
	}
	defer backend.Close()
	logger.Startup("Discovery backend: %s", cfg.Discovery.Type)

	var seeds []models.NodeInfo
	if cfg.Discovery.SeedFile != "" {
		if seeds, err = discovery.LoadSeedNodes(cfg.Discovery.SeedFile); err != nil {
			return err
		}
		logger.Startup("Loaded %d seed nodes from %s", len(seeds), cfg.Discovery.SeedFile)
	}

	acceptance, err := ursula.NewAcceptancePolicy(ctx, cfg.Node.Acceptance)
	if err != nil {
		return err
	}

	server := ursula.NewServer(node, repo, backend, acceptance, cfg)
	server.Limiter().PrintRateLimitInfo(ServiceName)
	sweeper := ursula.NewSweeper(repo, cfg.Node.SweepInterval)

	g := pool.New().WithContext(ctx).WithCancelOnError()
	g.Go(func(ctx context.Context) error {
		return server.Start(ctx, cfg.ListenAddress(), cfg.Server.GracefulStop)
	})
	g.Go(func(ctx context.Context) error {
		sweeper.Run(ctx)
		return nil
	})
	g.Go(func(ctx context.Context) error {
		announce(ctx, backend, server, seeds, cfg.Discovery.NodeTTL, logger)
		return nil
	})
	g.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := server.Limiter().Cleanup(limiterIdle); n > 0 {
					logger.Debug("dropped %d idle rate limiters", n)
				}
			}
		}
	})

	return g.Wait()
}

// openRepository returns the PostgreSQL store when a driver is configured
// and an in-memory one otherwise.
func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*repository.Repository, error) {
	if cfg.Database.Driver == "" {
		logger.Startup("Using in-memory arrangement store")
		return memory.NewRepository(), nil
	}

	masked := cfg.MaskSensitive()
	logger.Startup("Connecting to database: %s@%s:%d/%s", masked.Database.User, masked.Database.Host, masked.Database.Port, masked.Database.Database)
	repo, err := postgres.NewRepository(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Startup("Database connection successful")
	return repo, nil
}

// announce registers the node and the seed nodes, refreshing the entries
// before they age out.
func announce(ctx context.Context, registry discovery.NodeRegistry, server *ursula.Server, seeds []models.NodeInfo, ttl time.Duration, logger *logging.Logger) {
	interval := time.Minute
	if ttl > 0 {
		interval = ttl / 2
	}

	register := func() {
		if err := registry.Register(ctx, server.NodeInfo()); err != nil {
			logger.Warn("Failed to announce node: %v", err)
		}
		if err := discovery.Seed(ctx, registry, seeds); err != nil {
			logger.Warn("Failed to register seed nodes: %v", err)
		}
	}
	register()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}

func logConfiguration(cfg *config.Config, logger *logging.Logger) {
	logger.Startup("Configuration loaded successfully")
	logger.Info("Service: %s v%s (%s)", cfg.Service.Name, cfg.Service.Version, cfg.Service.Environment)
	logger.Info("Server: %s (timeouts: read=%v write=%v idle=%v)",
		cfg.ListenAddress(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
	logger.Info("Advertised endpoint: %s", cfg.Node.Endpoint)
	logger.Info("Acceptance: min deposit %d, max duration %v", cfg.Node.Acceptance.MinDeposit, cfg.Node.Acceptance.MaxDuration)
	logger.Info("Operator auth on audit logs: %v", cfg.Security.Admin.Enabled)
	logger.Info("Logging mode: %s", logging.LoggingMode())

	if cfg.IsProduction() {
		logger.Info("Running in PRODUCTION mode")
		logger.Info("  - TLS: %v", cfg.Server.TLS.Enabled)
		logger.Info("  - Rate limiting: %v", cfg.Security.RateLimiting.Enabled)
		logger.Info("  - Metrics: %v", cfg.Observability.Metrics.Enabled)
		logger.Info("  - Tracing: %v", cfg.Observability.Tracing.Enabled)
	}
}
