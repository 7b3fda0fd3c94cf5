// cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"guardian_voting/pkg/backend"
	"guardian_voting/pkg/ballot"
	"guardian_voting/pkg/config"
	"guardian_voting/pkg/data"
	"guardian_voting/pkg/database"
	"guardian_voting/pkg/election"
	"guardian_voting/pkg/poll"
	"guardian_voting/pkg/results"
	"guardian_voting/pkg/session"
	"guardian_voting/pkg/tally"
	"guardian_voting/pkg/utils"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir    = flag.String("data-dir", "./data", "Data directory path")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

const (
	sessionTokenEnv    = "GUARDIAN_SESSION_TOKEN"
	vaultPassphraseEnv = "GUARDIAN_VAULT_PASSPHRASE"

	// minBallotInterval is the shortest believable gap between two human
	// ballot requests
	minBallotInterval = 2 * time.Second
)

// App wires the voting client services together. The ballot workflow,
// tracker, orchestrator, and verifier are driven by the interactive surfaces;
// the monitor keeps the election cache and guardian snapshots fresh in the
// background.
type App struct {
	db           *database.Service
	client       *backend.HTTPClient
	identity     *session.Identity
	vault        *session.Vault
	elections    *election.Manager
	workflow     *ballot.Workflow
	tracker      *tally.Tracker
	orchestrator *tally.Orchestrator
	verifier     *results.Verifier
	monitor      *poll.Monitor
	logger       *zap.Logger
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := initLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := loadConfig(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration",
			zap.String("path", *configFile),
			zap.Error(err),
		)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	// Create context for application lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize application
	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	// Setup shutdown handling
	setupGracefulShutdown(ctx, cancel, app, logger)

	// Block until shutdown signal
	<-ctx.Done()
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Initialize database service
	dbService, err := database.NewService(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database service: %w", err)
	}
	if err := dbService.Start(initCtx); err != nil {
		return nil, fmt.Errorf("starting database: %w", err)
	}
	repo := dbService.GetRepository()

	// Initialize backend client and session
	client, err := backend.NewHTTPClient(&cfg.Backend, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing backend client: %w", err)
	}

	identity, err := establishSession(cfg, client, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("establishing session: %w", err)
	}

	var vault *session.Vault
	if passphrase := os.Getenv(vaultPassphraseEnv); passphrase != "" {
		vault, err = session.NewVault(&cfg.Session, passphrase, logger)
		if err != nil {
			dbService.Stop(context.Background())
			return nil, fmt.Errorf("opening credential vault: %w", err)
		}
	} else {
		logger.Info("No vault passphrase provided, credential storage disabled")
	}

	// Initialize domain services
	elections := election.NewManager(client, repo, logger)
	resolver := election.NewResolver(client, logger)
	checker := session.NewActivityChecker(minBallotInterval, logger)

	workflow, err := ballot.NewWorkflow(client, resolver, checker, repo, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing ballot workflow: %w", err)
	}

	poller, err := poll.NewPoller(&cfg.Poll, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing poller: %w", err)
	}

	tracker, err := tally.NewTracker(client, repo, poller, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing guardian tracker: %w", err)
	}

	aggregator := results.NewAggregator(logger)
	orchestrator, err := tally.NewOrchestrator(client, aggregator, repo, poller, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing combine orchestrator: %w", err)
	}

	verifier, err := results.NewVerifier(aggregator, client, repo, logger)
	if err != nil {
		dbService.Stop(context.Background())
		return nil, fmt.Errorf("initializing ballot verifier: %w", err)
	}

	app := &App{
		db:           dbService,
		client:       client,
		identity:     identity,
		vault:        vault,
		elections:    elections,
		workflow:     workflow,
		tracker:      tracker,
		orchestrator: orchestrator,
		verifier:     verifier,
		monitor:      poll.NewMonitor(&cfg.Monitor, logger),
		logger:       logger,
	}

	if err := app.startMonitor(cfg); err != nil {
		app.stop(context.Background())
		return nil, fmt.Errorf("starting monitor: %w", err)
	}

	logger.Info("All services started successfully")
	return app, nil
}

// establishSession parses the session token, if one was provided, and arms
// the backend client with it
func establishSession(cfg *config.Config, client *backend.HTTPClient, logger *zap.Logger) (*session.Identity, error) {
	token := os.Getenv(sessionTokenEnv)
	if token == "" {
		logger.Info("No session token provided, running unauthenticated")
		return nil, nil
	}

	sessions, err := session.NewManager(&cfg.Session, logger)
	if err != nil {
		return nil, err
	}
	identity, err := sessions.ParseToken(token)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	logger.Info("Session established",
		zap.String("email", identity.Email),
		zap.Strings("roles", identity.Roles))
	return identity, nil
}

// startMonitor registers the recurring refresh entries and starts the
// scheduler. The guardian sweep only runs for guardian sessions.
func (a *App) startMonitor(cfg *config.Config) error {
	refresh := &poll.Entry{
		ID:       "election-refresh",
		Name:     "Election cache refresh",
		Schedule: cfg.Monitor.ElectionRefreshSpec,
		RunFn: func(ctx context.Context) error {
			return a.elections.RefreshAll(ctx)
		},
	}
	if err := a.monitor.AddEntry(refresh); err != nil {
		return fmt.Errorf("adding election refresh entry: %w", err)
	}

	if a.identity != nil && a.identity.IsGuardian() {
		sweep := &poll.Entry{
			ID:       "guardian-sweep",
			Name:     "Guardian job status sweep",
			Schedule: cfg.Monitor.GuardianSweepSpec,
			RunFn:    a.sweepGuardianJobs,
		}
		if err := a.monitor.AddEntry(sweep); err != nil {
			return fmt.Errorf("adding guardian sweep entry: %w", err)
		}
	}

	return a.monitor.Start()
}

// sweepGuardianJobs refreshes this guardian's decryption job status for every
// cached election that has ended
func (a *App) sweepGuardianJobs(ctx context.Context) error {
	var lastErr error
	for _, id := range a.elections.Cached() {
		e, err := a.elections.Get(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		if e.TemporalStatus() != data.StatusEnded {
			continue
		}
		if _, err := a.tracker.SyncStatus(ctx, id, a.identity.Email); err != nil {
			a.logger.Warn("Guardian status sweep failed",
				zap.String("electionId", id),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (a *App) stop(ctx context.Context) error {
	// Stop services in reverse order
	var errs []error

	if err := a.monitor.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping monitor: %w", err))
	}

	if err := a.db.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping database: %w", err))
	}

	// Log all errors but continue shutdown
	for _, err := range errs {
		a.logger.Error("Shutdown error", zap.Error(err))
	}

	a.logger.Info("All services stopped")
	return nil
}

func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, app *App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
			os.Exit(1)
		}

		cancel() // Cancel main context
	}()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Anchor relative paths under the data directory
	if cfg.Database.DataDir == "" {
		cfg.Database.DataDir = *dataDir
	}
	if cfg.Session.CredentialDir == "" {
		cfg.Session.CredentialDir = filepath.Join(*dataDir, "credentials")
	}

	return cfg, nil
}

func initLogger(debug bool) (*zap.Logger, error) {
	logCfg := utils.DefaultLogConfig()
	logCfg.OutputPath = filepath.Join(*dataDir, "logs", "client.log")
	if debug {
		logCfg.Level = "debug"
		logCfg.Console = true
	}
	return utils.NewLogger(logCfg)
}
