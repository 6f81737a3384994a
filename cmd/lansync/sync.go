package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/lansync/internal/config"
	"github.com/yuya-takeyama/lansync/internal/logging"
	"github.com/yuya-takeyama/lansync/internal/report"
	"github.com/yuya-takeyama/lansync/pkg/client"
	"github.com/yuya-takeyama/lansync/pkg/notify"
	"github.com/yuya-takeyama/lansync/pkg/s3client"
)

func newSyncCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Make a local directory match a lansync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromViper(v)
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "Server address (required)")
	flags.IntP("port", "p", config.DefaultPort, "Server port")
	flags.StringP("dir", "d", ".", "Local directory to sync into")
	flags.Bool("mirror", true, "Delete local files the server does not have")
	flags.Bool("allow-wipe", false, "Allow mirroring an empty server, deleting every local file")
	flags.Bool("dryrun", false, "Shows operations without executing")
	flags.Duration("timeout", config.DefaultTimeout, "Connect and per-message I/O timeout")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.StringSlice("include", nil, "Include patterns (multiple allowed)")
	flags.Int("hash-cache", 0, "Number of file hashes to cache (0 disables)")
	flags.String("plan-json-file", "", "Path or s3:// URI to output plan as JSON file")
	flags.String("result-json-file", "", "Path or s3:// URI to output result as JSON file")
	flags.String("profile", "", "AWS profile to use for s3:// outputs")
	flags.String("region", "", "AWS region (uses default if not specified)")

	return cmd
}

func runSync(ctx context.Context, cfg *config.Config) error {
	c := client.New(client.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Root:          cfg.Dir,
		Timeout:       cfg.Timeout,
		DeleteEnabled: cfg.Mirror,
		AllowWipe:     cfg.AllowWipe,
		Excludes:      cfg.Excludes,
		Includes:      cfg.Includes,
		DryRun:        cfg.DryRun,
		HashCache:     cfg.HashCache,
	}, &notify.SlogNotifier{})

	result, syncErr := c.Sync(ctx)

	if err := writeReports(ctx, cfg, result); err != nil {
		slog.Error("failed to write report", "error", err)
		if syncErr == nil {
			syncErr = err
		}
	}

	logging.PrintSummary(os.Stdout, cfg.Quiet, logging.Summary{
		Downloaded:   result.Downloaded,
		Deleted:      result.Deleted,
		Failed:       result.Failed,
		DeleteFailed: result.DeleteFailed,
		Bytes:        result.Bytes,
		Duration:     result.Duration,
		DryRun:       result.DryRun,
	})

	if syncErr != nil {
		return syncErr
	}
	if !result.Success {
		return errors.New(result.Summary())
	}
	slog.Info(result.Summary())
	return nil
}

func writeReports(ctx context.Context, cfg *config.Config, result client.Result) error {
	if cfg.PlanJSONFile == "" && cfg.ResultJSONFile == "" {
		return nil
	}

	w := report.NewWriter(afero.NewOsFs(), func(ctx context.Context) (s3client.Client, error) {
		c, err := s3client.LoadAWSClient(ctx, cfg.Profile, cfg.Region)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	loc := report.Locations{
		Server: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Root:   cfg.Dir,
	}

	// The plan only exists once the session got as far as comparing trees.
	planned := result.Plan.ToDownload != nil
	if cfg.PlanJSONFile != "" && planned {
		if err := w.Write(ctx, cfg.PlanJSONFile, report.NewPlanResult(result.Plan.Items(), loc)); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}
	if cfg.ResultJSONFile != "" && !result.DryRun {
		if err := w.Write(ctx, cfg.ResultJSONFile, report.NewSyncResult(result.Files, loc)); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}
	return nil
}
