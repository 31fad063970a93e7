package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/config"
	"github.com/JakeFAU/worklist-harvester/internal/logging"
)

type servicesKey struct{}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests composition lists and composer indexes from Wikipedia.",
		Long: `harvester fetches "List of compositions by ..." articles, turns every
table row into a raw record, canonicalizes the rows onto a fixed composition
schema, and streams both to newline-delimited JSON files.`,
		SilenceUsage: true,

		// Services are built after flags parse and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			svc, err := newServices(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey{}, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if svc, ok := cmd.Context().Value(servicesKey{}).(*services); ok && svc != nil {
				svc.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newWorksCmd())
	cmd.AddCommand(newComposersCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveServices(ctx context.Context) (*services, error) {
	svc, ok := ctx.Value(servicesKey{}).(*services)
	if !ok || svc == nil {
		return nil, errors.New("services not initialized")
	}
	return svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func logSummaryError(logger *zap.Logger, subject string, err error) {
	logger.Error("run failed", zap.String("subject", subject), zap.Error(err))
}
