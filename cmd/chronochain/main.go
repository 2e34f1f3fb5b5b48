package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmerrifield20/chronochain/internal/app"
	"github.com/jmerrifield20/chronochain/internal/config"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/jmerrifield20/chronochain/internal/logging"
	"github.com/jmerrifield20/chronochain/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", ledger.KindOf(err), err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "chronochain",
	Short: "Tamper-evident, append-only ledger",
	Long: `chronochain keeps an append-only chain of timestamped records, each
linked to its predecessor by a content digest, and verifies the whole chain
on demand.

Run without a subcommand to open (or seed) the configured chain, validate
it, save it and verify the saved copy.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		return app.Run(cmd.Context(), app.Options{Verbose: verbose, Config: cfg, Logger: logger})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./chronochain.yaml or $XDG_CONFIG_HOME/chronochain/chronochain.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug) logging")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitCode maps an error kind to the process exit status.
func exitCode(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return 2
	case ledger.KindCodec:
		return 3
	case ledger.KindIO:
		return 4
	case ledger.KindNotFound:
		return 5
	case ledger.KindCapacity:
		return 6
	case ledger.KindState:
		return 7
	case ledger.KindCanceled:
		return 130
	default:
		return 1
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, used, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(verbose, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	if used != "" {
		logger.Debug("loaded config", zap.String("file", used))
	}
	return cfg, logger, nil
}

// withLedger opens the configured backend and hands fn an uninitialized
// ledger over it. The backend is closed once fn returns.
func withLedger(ctx context.Context, fn func(l *ledger.Ledger, cfg *config.Config, logger *zap.Logger) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	l, err := app.NewLedger(cfg, backend, logger)
	if err != nil {
		return err
	}
	return fn(l, cfg, logger)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chronochain version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("chronochain", version)
	},
}
