package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
	"github.com/raaihank/phi-guard/internal/store"
)

type globalOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "phictl",
		Short: "Inspect and exercise PHI redaction from the command line",
		Long: `phictl runs the same detection, redaction and re-identification as the
PHI Guard server, against the configured policies and mapping store.

Examples:
  echo "Patient John Smith, SSN 123-45-6789" | phictl sanitize --tenant clinic-a
  phictl sanitize --tenant clinic-a --roundtrip "DOB: 01/02/1990"
  phictl reidentify --tenant clinic-a --mapping-id <id> "[PHI_DOB_1]"
  phictl catalog --tenant clinic-a
  phictl config-check --config configs/config.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newSanitizeCmd(opts),
		newReidentifyCmd(opts),
		newCatalogCmd(opts),
		newConfigCheckCmd(opts),
	)

	return rootCmd
}

// environment is the wired runtime shared by the subcommands
type environment struct {
	config   *config.Config
	log      *logger.Logger
	tenants  *config.TenantProvider
	mappings store.MappingStore
	service  *service.Service
}

func (e *environment) Close() {
	if e.mappings != nil {
		e.mappings.Close()
	}
	e.log.Sync()
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newEnvironment loads configuration and opens the mapping store.
// Logs go to stderr only with --verbose so command output stays clean.
func newEnvironment(opts *globalOptions) (*environment, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	log := logger.NewNop()
	if opts.verbose {
		log, err = logger.New(logger.Config{Level: "debug", Format: "console"})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	tenants, err := config.NewTenantProvider(cfg)
	if err != nil {
		return nil, err
	}

	mappings, err := store.New(cfg.Store, log.WithComponent("store").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping store: %w", err)
	}

	redactor := privacy.NewRedactor(privacy.NewDetector(privacy.DefaultCatalog(), log.WithComponent("privacy")))
	svc := service.New(redactor, mappings, log, service.Options{OpTimeout: cfg.Store.OpTimeout})

	return &environment{
		config:   cfg,
		log:      log,
		tenants:  tenants,
		mappings: mappings,
		service:  svc,
	}, nil
}
