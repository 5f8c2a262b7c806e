package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/analytics"
	"github.com/drummonds/tagview/internal/config"
	"github.com/drummonds/tagview/internal/logging"
	"github.com/drummonds/tagview/internal/preview"
	"github.com/drummonds/tagview/internal/session"
	"github.com/drummonds/tagview/internal/tagapi"
	"github.com/drummonds/tagview/internal/tagdisplay"
	"github.com/drummonds/tagview/internal/upload"
	"github.com/drummonds/tagview/internal/web"
)

type globalFlags struct {
	configPath string
	backendURL string
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "tagview",
		Short: "tagview - browser front end for an image-tagging backend",
		Long: `tagview serves a page where you upload an image or pick a sample,
sends it to the tagging backend, and shows the returned tags with
aggregate analytics.

Settings come from ` + config.FileName + `, a .env file and TAGVIEW_*
environment variables. Run "tagview init" to write an example config.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.FileName, "config file")
	root.PersistentFlags().StringVar(&g.backendURL, "backend", "", "override backend_url")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(serveCmd(&g), initCmd(&g), tagCmd(&g), samplesCmd(&g), analyticsCmd(&g))
	return root
}

// setup loads config, applies flag overrides and installs the logger.
func setup(g *globalFlags) (config.Config, *zap.Logger, error) {
	cfg, source, err := config.Load(g.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if g.backendURL != "" {
		cfg.BackendURL = g.backendURL
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, err
	}
	logger.Debug("config loaded", zap.String("source", source))
	return cfg, logger, nil
}

func newClient(cfg config.Config) *tagapi.Client {
	return tagapi.NewClient(cfg.BackendURL,
		tagapi.WithUploadPath(cfg.UploadPath),
		tagapi.WithTimeout(cfg.RequestTimeout))
}

func initCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write an example " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(g.configPath); err == nil {
				return fmt.Errorf("%s already exists", g.configPath)
			}
			if err := config.WriteExample(g.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", g.configPath)
			return nil
		},
	}
}

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string
	var secure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg, secure, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override listen address (e.g. :9090)")
	cmd.Flags().BoolVar(&secure, "secure-cookie", false, "mark the session cookie Secure (behind TLS)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, secure bool, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store session.Store
	switch cfg.SessionStore {
	case "redis":
		rdb, err := session.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		store = session.NewRedisStore(rdb, cfg.SessionTTL)
		logger.Info("using redis session store", zap.String("addr", cfg.Redis.Addr))
	default:
		store = session.NewMemoryStore(cfg.SessionTTL, cfg.MaxSessions)
	}
	sessions := session.NewManager(store, nil)
	defer sessions.Close()

	thumbs, err := preview.NewThumbnailer(cfg.ThumbDir, cfg.ThumbSize)
	if err != nil {
		logger.Warn("previews disabled", zap.String("dir", cfg.ThumbDir), zap.Error(err))
		thumbs = nil
	}

	client := newClient(cfg)
	uploads := upload.NewPanel(client, upload.Options{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Language:            cfg.Language,
	}, logger.Named("upload"))
	ap := analytics.NewPanel(client, tagapi.AnalyticsOptions{
		Limit:         cfg.AnalyticsLimit,
		MinConfidence: cfg.AnalyticsMinConfidence,
	}, logger.Named("analytics"))

	srv, err := web.New(web.Options{
		RequestTimeout: cfg.RequestTimeout,
		SessionTTL:     cfg.SessionTTL,
		SecureCookie:   secure,
		BackendURL:     cfg.BackendURL,
	}, sessions, uploads, ap, thumbs, logger.Named("web"))
	if err != nil {
		return err
	}
	srv.LoadSamples(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("backend", cfg.BackendURL))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// cancel background requests first so websocket handlers return
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tagCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <file>",
		Short: "Upload an image and print its tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			defer logger.Sync()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			info := upload.FileInfo{
				Name:        filepath.Base(args[0]),
				ContentType: http.DetectContentType(data),
				Size:        int64(len(data)),
			}
			if err := upload.Validate(info); err != nil {
				return err
			}
			res, err := newClient(cfg).UploadImage(cmd.Context(), info.Name, info.ContentType, data, tagapi.UploadOptions{
				ConfidenceThreshold: cfg.ConfidenceThreshold,
				Language:            cfg.Language,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", upload.UserMessage(err, "Failed to analyze image"), err)
			}

			out := cmd.OutOrStdout()
			if img, err := preview.Inspect(data); err == nil {
				fmt.Fprintf(out, "%s: %dx%d %s, %s\n", info.Name, img.Width, img.Height, img.Format, upload.FormatSize(info.Size))
			}
			printTags(cmd, res.Tags)
			return nil
		},
	}
}

func printTags(cmd *cobra.Command, tags []tagapi.Tag) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Discovered Tags (%d)\n", len(tags))
	for _, v := range tagdisplay.Render(tags) {
		star := ""
		if v.Primary {
			star = " *"
		}
		fmt.Fprintf(out, "  %-20s %5.1f%%  %s %s%s\n", v.Name, v.Confidence, v.Tier.Icon(), v.Tier.Label(), star)
	}
}

func samplesCmd(g *globalFlags) *cobra.Command {
	var analyze int
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List the backend's sample images, or analyze one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			client := newClient(cfg)

			if analyze > 0 {
				res, err := client.AnalyzeSampleImage(cmd.Context(), analyze, cfg.ConfidenceThreshold)
				if err != nil {
					return err
				}
				printTags(cmd, res.Tags)
				return nil
			}

			samples, err := upload.NewPanel(client, upload.Options{}, logger).Samples(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(samples) == 0 {
				fmt.Fprintln(out, "No sample images available")
			}
			for _, s := range samples {
				fmt.Fprintf(out, "%3d  %s %-12s %s\n", s.ID, upload.SampleEmoji(s.Filename), upload.SampleLabel(s.Filename), client.SampleImageURL(s))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&analyze, "analyze", 0, "analyze the sample with this id")
	return cmd
}

func analyticsCmd(g *globalFlags) *cobra.Command {
	var chartPath string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print aggregate tag statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			defer logger.Sync()
			client := newClient(cfg)

			stats, err := client.GetImageStats(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := client.GetAnalytics(cmd.Context(), tagapi.AnalyticsOptions{
				Limit:         cfg.AnalyticsLimit,
				MinConfidence: cfg.AnalyticsMinConfidence,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total Images:   %d\n", stats.TotalImages)
			fmt.Fprintf(out, "Avg Tags/Image: %.1f\n", stats.AvgTagsPerImage)
			if len(summary.TopTags) > 0 {
				fmt.Fprintln(out, "Top Tags Ranking")
			}
			for i, t := range summary.TopTags {
				fmt.Fprintf(out, "%2d. %-20s %5.1f%% of images  avg confidence %.1f%%\n", i+1, t.TagName, t.PercentageOnImages, t.AvgConfidence)
			}

			if chartPath != "" {
				f, err := os.Create(chartPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := analytics.Chart(summary, f); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", chartPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chartPath, "chart", "", "also write a PNG bar chart of the top tags")
	return cmd
}
