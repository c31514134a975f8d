// bitgremlin: HTTP service that puts ffmpeg, yt-dlp, qpdf, Ghostscript, poppler and
// cwebp behind one file-conversion API, with in-process fallbacks where a tool is
// missing.
//
// Run: go run . serve --config bitgremlin.yaml  (then POST to http://localhost:5060/api/...)
//      go run . tools                          (which external tools resolve, and from where)

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bitgremlin/internal/config"
	"bitgremlin/internal/logging"
	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/server"
)

var (
	cfgFile string
	noColor bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bitgremlin",
		Short:        "File conversion service backed by external media and PDF tools",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path (env CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Report which external tools resolve",
		RunE:  runTools,
	})
	return root
}

// ===== serve =====

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "bitgremlin",
	})

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	for _, r := range srv.Report() {
		evt := logger.Info()
		if !r.Found {
			evt = logger.Warn()
		}
		evt.Str("tool", r.Tool).Bool("found", r.Found).Str("path", r.Binding.Path).Msg("tool resolved")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, srv.Handler(), logger)
}

// serve runs the HTTP server until ctx is done, then drains in-flight requests for
// at most the configured grace period.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger zerolog.Logger) error {
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("work_dir", workDir(cfg)).
			Int64("max_upload_bytes", cfg.Limits.MaxUploadBytes).
			Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("grace", cfg.Server.GracefulShutdown).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func workDir(cfg *config.Config) string {
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	return os.TempDir()
}

// ===== tools =====

func runTools(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if noColor {
		color.NoColor = true
	}
	locator := pipeline.NewLocator(cfg.Tools, config.ToolEnv)
	printReport(cmd.OutOrStdout(), locator.Report(server.ToolNames()...))
	return nil
}

func printReport(out io.Writer, report []pipeline.Resolution) {
	ok := color.New(color.FgGreen).SprintFunc()
	missing := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSTATUS\tSOURCE\tPATH")
	for _, r := range report {
		if r.Found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Tool, ok("found"), r.Binding.Source, r.Binding.Path)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t-\t%s\n", r.Tool, missing("missing"), dim("set "+r.Env))
	}
	tw.Flush()
}
