package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/naka-gawa/grade-report/internal/config"
	"github.com/naka-gawa/grade-report/internal/gateway"
	"github.com/naka-gawa/grade-report/internal/logging"
	"github.com/naka-gawa/grade-report/internal/metrics"
	"github.com/naka-gawa/grade-report/internal/notify"
	"github.com/naka-gawa/grade-report/internal/render"
	"github.com/naka-gawa/grade-report/internal/usecase"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type reportFlags struct {
	listings   []string
	jsonOutput bool
}

func newReportCmd(root *rootFlags) *cobra.Command {
	flags := &reportFlags{}
	vip := viper.New()

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Builds the grade report of every configured product listing",
		Long: `Builds the grade report of every configured product listing and delivers it.
Reports are always summarized in the logs. They are mailed when send_mail is enabled, posted
to Slack when a channel is configured and written as HTML files when an output directory is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, vip, root, flags)
		},
	}

	reportCmd.Flags().Bool("send-mail", false, "mail each report to the recipients of its listing")
	reportCmd.Flags().String("output-dir", "", "write each report as <output-dir>/<listing id>.html")
	reportCmd.Flags().StringSliceVar(&flags.listings, "listing", nil, "only report on this product listing id (repeatable)")
	reportCmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print the reports as JSON to standard output")

	// Flags take precedence over the configuration file and the environment.
	_ = vip.BindPFlag("send_mail", reportCmd.Flags().Lookup("send-mail"))
	_ = vip.BindPFlag("output_dir", reportCmd.Flags().Lookup("output-dir"))

	return reportCmd
}

func runReport(cmd *cobra.Command, vip *viper.Viper, root *rootFlags, flags *reportFlags) (err error) {
	ctx := cmd.Context()

	bootstrap := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	if l, ok := logging.VerbosityLevel(root.verbosity); ok {
		bootstrap = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l}))
	}
	if root.jsonLogs {
		vip.Set("log.json", true)
	}
	if err := config.InitViper(root.configFile, vip, bootstrap); err != nil {
		return err
	}
	cfg, err := config.Load(vip)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log, cmd.ErrOrStderr(), root.verbosity)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeLog()) }()
	logger = logger.With("run_id", uuid.NewString())

	listings, err := cfg.SelectListings(flags.listings)
	if err != nil {
		return err
	}

	// Inject dependencies and run the main business logic.
	rec := metrics.New()
	fetcher, err := gateway.NewCatalogGateway(cfg.Catalog, logger, rec)
	if err != nil {
		return fmt.Errorf("failed to create catalog gateway: %w", err)
	}
	aggregator := usecase.NewAggregator(fetcher, logger,
		usecase.WithTagSnapshot(cfg.TagSnapshot),
		usecase.WithConcurrency(cfg.Concurrency),
	)
	renderer, err := render.NewHTMLRenderer(cfg.Template)
	if err != nil {
		return err
	}
	notifier, deliver, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	runner := usecase.NewRunner(aggregator, renderer, notifier, logger,
		usecase.WithAbortPolicy(cfg.AbortPolicy),
		usecase.WithDelivery(deliver),
		usecase.WithOutputDir(cfg.OutputDir),
		usecase.WithRecorder(rec),
	)

	logger.Info("Starting run", "listings", len(listings), "send_mail", cfg.SendMail, "slack", cfg.Slack.Enabled())
	reports, runErr := runner.Run(ctx, listings)

	if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Error("Failed to write metrics", "file", cfg.MetricsFile, "error", err)
	}

	if flags.jsonOutput {
		// Marshal the results into a pretty-printed JSON string.
		jsonData, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal reports to JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
	}

	return runErr
}

// newNotifier returns the notifier for the enabled delivery channels and whether any is enabled.
func newNotifier(cfg config.Config, logger *slog.Logger) (notify.Notifier, bool, error) {
	var notifiers notify.Multi
	if cfg.SendMail {
		email, err := notify.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			return nil, false, err
		}
		notifiers = append(notifiers, email)
	}
	if cfg.Slack.Enabled() {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Slack, logger))
	}
	if len(notifiers) == 0 {
		return notify.Discard{}, false, nil
	}
	return notifiers, true, nil
}
