package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/events"
	"github.com/infermesh/infermesh/pkg/gateway"
	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/modelmanager"
	"github.com/infermesh/infermesh/pkg/orchestrator"
	"github.com/infermesh/infermesh/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "infermesh",
	Short: "Infermesh - distributed AI model inference platform",
	Long: `Infermesh runs AI inference across a fleet of workers behind a
single gateway. A deployment is four services from one binary: the
gateway authenticates and rate limits callers, the orchestrator routes
requests to healthy workers, workers execute inference against
preloaded models, and the model manager stores model blobs and
metadata.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: logJSON,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Infermesh version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(orchestratorCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(modelManagerCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	return cfg, nil
}

// runService starts a server, then blocks until SIGINT/SIGTERM or a
// listener failure, and shuts down cleanly.
type service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

func runService(name string, svc service) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent(name).Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	cancel()
	return svc.Shutdown(context.Background())
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the API gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runService("gateway", gateway.NewServer(cfg.Gateway))
	},
}

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the inference orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		orch, err := orchestrator.New(cfg.Orchestrator, broker)
		if err != nil {
			return fmt.Errorf("failed to create orchestrator: %v", err)
		}
		return runService("orchestrator", orchestrator.NewServer(orch, cfg.Orchestrator))
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an inference worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if cfg.Worker.ID == "" {
			cfg.Worker.ID = "worker-" + uuid.New().String()[:8]
		}

		var fetcher worker.ModelFetcher
		if cfg.Worker.ModelManagerURL != "" {
			fetcher = modelmanager.NewClient(cfg.Worker.ModelManagerURL)
		}

		w, err := worker.NewWorker(cfg.Worker, fetcher, nil)
		if err != nil {
			return fmt.Errorf("failed to create worker: %v", err)
		}
		return runService("worker", worker.NewServer(w, cfg.Worker))
	},
}

var modelManagerCmd = &cobra.Command{
	Use:   "model-manager",
	Short: "Run the model manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		mgr, err := modelmanager.NewManager(cfg.ModelManager, broker)
		if err != nil {
			return fmt.Errorf("failed to create model manager: %v", err)
		}
		return runService("model-manager", modelmanager.NewServer(mgr, cfg.ModelManager))
	},
}
