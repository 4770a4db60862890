// Command bitable-sync turns the rows of a Feishu Bitable into Jekyll posts.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/feishu"
	"github.com/cyderes/bitable-sync/internal/ingestion"
	"github.com/cyderes/bitable-sync/internal/logging"
	"github.com/cyderes/bitable-sync/internal/markdown"
	"github.com/cyderes/bitable-sync/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "bitable-sync",
	Short: "Sync a Feishu Bitable into Jekyll posts",
	Long: "Reads the first table of the configured Feishu Bitable base and writes one " +
		"Jekyll markdown post per record into the posts directory.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

// exitError attaches a process exit code to a setup failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ingestion.ExitUnexpected
}

// setup loads and validates configuration and builds the root logger.
func setup(validate func(*config.Config) error) (*config.Config, *glog.BaseLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, &exitError{code: ingestion.ExitConfig, err: fmt.Errorf("failed to load configuration: %w", err)}
	}
	if err := validate(cfg); err != nil {
		return nil, nil, &exitError{code: ingestion.ExitConfig, err: err}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, &exitError{code: ingestion.ExitConfig, err: err}
	}
	return cfg, logger, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup((*config.Config).ValidateForSync)
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return &exitError{code: ingestion.ExitLedger, err: fmt.Errorf("failed to initialize storage: %w", err)}
	}
	defer store.Close()

	client := feishu.NewClient(cfg.Feishu, logger.GetLogger("feishu"))
	generator := markdown.NewGenerator(cfg.Output)
	service := ingestion.NewService(client, generator, store, logger.GetLogger("ingestion"))

	_, err = service.Run(ctx)
	return err
}
