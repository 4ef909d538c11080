package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShoshinNikita/recipebox/pkg/misc"
	"github.com/ShoshinNikita/recipebox/pkg/rlog"
	"github.com/ShoshinNikita/recipebox/recipebox"
)

const shutdownTimeout = 10 * time.Second

// Execute runs the command line interface and returns the exit code.
func Execute() int {
	root, err := NewRootCommand()
	if err != nil {
		rlog.Errorf("couldn't prepare commands: %s", err)
		return 1
	}
	if err := root.Execute(); err != nil {
		rlog.Error(err)
		return 1
	}
	return 0
}

func NewRootCommand() (*cobra.Command, error) {
	cfg := recipebox.NewConfig()

	var (
		configPath   string
		printVersion bool
	)
	root := &cobra.Command{
		Use:   "recipebox",
		Short: "Recipe browser with a two-tier image cache",
		Long: "" +
			"recipebox lists recipes loaded from a remote endpoint and serves their photos\n" +
			"through a memory and disk image cache. Without a subcommand it runs the web server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := cfg.LoadFile(cmd.Flags(), configPath); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			rlog.SetLevel(cfg.LogLevel)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printVersion {
				cfg.BuildInfo.Print()
				return nil
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	if err := cfg.RegisterFlags(flags); err != nil {
		return nil, err
	}
	flags.StringVar(&configPath, "config", "", "Path to a YAML file with flag values. Explicit flags take precedence")
	root.Flags().BoolVar(&printVersion, "version", false, "Print version and exit")

	root.AddCommand(
		newServeCommand(&cfg),
		newSweepCommand(&cfg),
		newClearCommand(&cfg),
		newBrowseCommand(&cfg),
	)
	return root, nil
}

func newServeCommand(cfg *recipebox.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
}

func runServe(ctx context.Context, cfg recipebox.Config) (err error) {
	cfg.BuildInfo.Print()
	cfg.Print()

	app := NewApp(cfg)

	var startFinished <-chan struct{}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		rlog.Info("shutdown")
		if shutdownErr := app.Shutdown(ctx); shutdownErr != nil {
			rlog.Error(shutdownErr)
		}

		if startFinished != nil {
			<-startFinished
		}
	}()

	if err := app.Prepare(); err != nil {
		return err
	}

	termCtx, termCtxCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer termCtxCancel()

	var startFailed bool
	startFinished = app.Start(func() {
		startFailed = true
		termCtxCancel()
	})

	<-termCtx.Done()

	if startFailed {
		return errors.New("couldn't start app")
	}
	return nil
}

func newSweepCommand(cfg *recipebox.Config) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove old images from the disk cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.ImageCacheMaxAge
			}
			if maxAge < 0 {
				return errors.New("max age can't be negative")
			}

			return withApp(*cfg, func(app *App) error {
				stats, err := app.loader.Sweep(maxAge)
				if err != nil {
					return fmt.Errorf("couldn't sweep image cache: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(),
					"%d files older than %s were removed, %s freed\n",
					stats.RemovedFiles, maxAge, misc.FormatFileSize(stats.FreedBytes),
				)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", recipebox.DefaultImageCacheMaxAge, "Remove images older than this age. Defaults to --image-cache-max-age")

	return cmd
}

func newClearCommand(cfg *recipebox.Config) *cobra.Command {
	var (
		tier      string
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the image cache",
		Long: "" +
			"Clear the image cache. The memory cache lives in the server process, so it\n" +
			"can be cleared only through a running server (see --server).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch tier {
			case "memory", "disk", "all":
			default:
				return fmt.Errorf("invalid tier %q, valid values: memory, disk, all", tier)
			}

			if serverURL != "" {
				return clearServerCache(cmd.Context(), serverURL, tier, cfg.HTTPTimeout)
			}

			if tier == "memory" {
				return errors.New("memory cache can be cleared only through a running server, use --server")
			}
			return withApp(*cfg, func(app *App) error {
				app.loader.ClearDiskCache()

				fmt.Fprintf(cmd.OutOrStdout(), "disk cache %q was cleared\n", app.diskCache.Dir())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "all", "Cache tier to clear: memory, disk or all")
	cmd.Flags().StringVar(&serverURL, "server", "", "Url of a running server, for example, http://localhost:8080")

	return cmd
}

func clearServerCache(ctx context.Context, serverURL, tier string, timeout time.Duration) error {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server url %q", serverURL)
	}
	u = u.JoinPath("/api/cache/clear")
	u.RawQuery = url.Values{"tier": []string{tier}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("couldn't prepare request: %w", err)
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// withApp prepares the app for a one-shot command. The periodic sweep is disabled.
func withApp(cfg recipebox.Config, fn func(app *App) error) (err error) {
	cfg.ImageCacheSweepInterval = 0

	app := NewApp(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if shutdownErr := app.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	if err := app.Prepare(); err != nil {
		return err
	}
	return fn(app)
}
