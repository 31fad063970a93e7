package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/api"
	"github.com/JakeFAU/worklist-harvester/internal/catalog"
)

const shutdownTimeout = 10 * time.Second

func newWorksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "works NAME...",
		Short: "Harvest the composition lists of the named composers",
		Long: `Fetches "List of compositions by NAME" for every argument, writes its
raw records to raw-info-NAME.json and appends accepted compositions to the
shared compositions file. Composers are processed one after another.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var failed int
			summaries := make([]catalog.RunSummary, 0, len(args))
			for _, name := range args {
				summary, err := svc.runner.HarvestWorks(ctx, name)
				if err != nil {
					failed++
					logSummaryError(svc.logger, name, err)
				}
				summaries = append(summaries, summary)
				if ctx.Err() != nil {
					break
				}
			}
			if err := printJSON(cmd.OutOrStdout(), summaries); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(args))
			}
			return nil
		},
	}
}

func newComposersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "composers",
		Short: "Harvest the list of composers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, runErr := svc.runner.HarvestComposers(ctx)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newReplayCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "replay NAME",
		Short: "Re-canonicalize a composer's raw records file",
		Long: `Reads raw-info-NAME.json written by an earlier works run and prints the
compositions canonicalization keeps. With --write they are also appended to
the compositions file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			summary, records, err := svc.runner.Replay(cmd.Context(), svc.runner.RawFileName(args[0]), write)
			if err != nil {
				logSummaryError(svc.logger, args[0], err)
				_ = printJSON(cmd.OutOrStdout(), summary)
				return err
			}
			if write {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "append the replayed records to the compositions file")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the harvesting HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, svc)
		},
	}
}

func serve(ctx context.Context, svc *services) error {
	opts := api.Options{
		RequestTimeout: svc.cfg.RequestTimeout(),
		Ready:          svc.ready,
	}
	if svc.cfg.Auth.Enabled {
		opts.APIKey = svc.cfg.Auth.APIKey
	}
	server := api.NewServer(svc.runner, opts, svc.logger)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(svc.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
