package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"dailydigest/internal/config"
	"dailydigest/internal/digest"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/mail"
)

var Version = "dev"

const (
	exitOK     = 0
	exitOther  = 1
	exitConfig = 2
	exitMail   = 3
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	dryRun     bool
	outPath    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "digest:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "digest",
		Short: "Build and email a daily digest of calendar, reminders, weather and a quote",
		Long: `digest runs once: it collects calendar events, reminders, weather and a
quote, renders one HTML email and sends it over SMTP. Schedule it with cron,
launchd or Windows Task Scheduler.

Exit codes: 0 sent (possibly degraded) or skipped, 2 configuration error,
3 mail delivery error, 1 anything else.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flags.logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, flags)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "path to config.json or config.yaml (env DIGEST_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error (env LOG_LEVEL)")
	root.Flags().BoolVar(&flags.dryRun, "dry-run", false, "render the digest but do not send it")
	root.Flags().StringVarP(&flags.outPath, "out", "o", "", "also write the rendered HTML to this file")

	root.AddCommand(initCmd(flags))
	root.AddCommand(serveCmd(flags))
	root.AddCommand(previewCmd(flags))
	root.AddCommand(versionCmd())

	return root
}

func runOnce(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	res, err := p.Run(cmd.Context(), digest.RunOptions{DryRun: flags.dryRun, OutPath: flags.outPath})
	if err != nil {
		return err
	}

	if flags.dryRun && flags.outPath == "" {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), res.Digest.Document.HTML)
	}
	for _, prob := range res.Digest.Problems {
		appLog.Warn("source failed", "source", prob.Source, "error", prob.Err.Error())
	}
	switch {
	case res.Sent:
		appLog.Info("done", "sent", true, "problems", len(res.Digest.Problems))
	case res.Skipped:
		appLog.Info("done", "sent", false, "reason", "empty")
	default:
		appLog.Info("done", "sent", false, "reason", "dry-run")
	}
	return nil
}

func newPipeline(cfg *config.Config) (*digest.Pipeline, error) {
	deps, err := digest.DefaultDependencies(cfg)
	if err != nil {
		return nil, err
	}
	return digest.New(cfg, deps), nil
}

func setupLogging(level string) error {
	if level == "" {
		return nil
	}
	lv, err := appLog.ParseLevel(level)
	if err != nil {
		return err
	}
	appLog.SetLevel(lv)
	return nil
}

// defaultConfigPath prefers DIGEST_CONFIG, then config.json next to the
// executable, then ./config.json.
func defaultConfigPath() string {
	if p := os.Getenv("DIGEST_CONFIG"); p != "" {
		return p
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "config.json"
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	var mailErr *mail.MailError
	if errors.As(err, &mailErr) {
		return exitMail
	}
	return exitOther
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "digest", Version)
		},
	}
}
