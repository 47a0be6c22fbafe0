package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/core"
	"github.com/rafabd1/Nightshade/internal/input"
	"github.com/rafabd1/Nightshade/internal/networking"
	"github.com/rafabd1/Nightshade/internal/output"
	"github.com/rafabd1/Nightshade/internal/report"
	"github.com/rafabd1/Nightshade/internal/target"
	"github.com/rafabd1/Nightshade/internal/unit"
	"github.com/rafabd1/Nightshade/internal/units"
	"github.com/rafabd1/Nightshade/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "nightshade [flags] <target>...",
		Short: "Nightshade recursively decodes challenge artifacts until it finds a flag",
		Long: `Nightshade takes files, URLs or literal strings, runs every applicable
analysis unit against them and recursively follows whatever the units produce,
reporting anything that matches the flag format.

Targets: an existing file path, an http(s) URL, "-" for stdin, "@list.txt"
for a file with one target per line, or any other literal string.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initViper(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args)
		},
	}

	defaults := config.GetDefaultConfig()
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to a config file (yaml, json or toml)")
	f.String("loglevel", defaults.Verbosity, "Log level (debug, info, warn, error)")
	f.Bool("no-color", false, "Disable colored output")
	f.Bool("silent", false, "Only print flags, warnings and errors")

	f = cmd.Flags()
	f.IntP("threads", "t", defaults.Threads, "Number of worker goroutines")
	f.StringP("outdir", "o", defaults.OutDir, "Directory for artifacts and results")
	f.BoolP("auto", "a", false, "Run every applicable unit")
	f.Bool("no-recurse", false, "Do not queue unit output as new targets")
	f.BoolP("force", "f", false, "Remove an existing output directory")
	f.Int("min-data", defaults.MinData, "Ignore unit output shorter than this")
	f.Int("max-depth", defaults.MaxDepth, "Maximum recursion depth")
	f.StringP("flag-format", "F", "", "Regular expression matching a flag (required)")
	f.Duration("timeout", defaults.Timeout, "Advisory per-unit evaluation timeout")
	f.Duration("join-timeout", 0, "Give up after this long (0 waits forever)")
	f.Bool("no-priority", false, "Run matched units in registration order")
	f.StringSliceP("unit", "u", nil, "Unit to run (repeatable)")
	f.StringSliceP("exclude", "x", nil, "Unit never to run (repeatable)")
	f.StringSlice("option", nil, "Unit option as unit.key=value (repeatable)")
	f.String("format", defaults.OutputFormat, "Report format (text, json, yaml)")
	f.String("output", "", "Report file (default stdout)")
	f.String("proxy", "", "Proxy URL, comma-separated list or file")
	f.Bool("insecure", false, "Skip TLS verification for URL targets")
	f.Duration("request-timeout", defaults.RequestTimeout, "HTTP timeout for URL targets")
	f.Int("retries", defaults.MaxRetries, "Retries for failed downloads")
	f.Bool("progress", false, "Show a progress bar")

	cmd.AddCommand(newUnitsCmd())
	return cmd
}

func newUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List the available units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := unit.NewRegistry()
			if err := units.RegisterAll(reg); err != nil {
				return err
			}
			for _, def := range reg.Definitions() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %3d  %s\n", def.Name, def.Priority, def.Description)
			}
			return nil
		},
	}
}

func initViper(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("NIGHTSHADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return nil
}

// loadConfig builds the Config from flags, environment and config file.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	cfg.Threads = v.GetInt("threads")
	cfg.OutDir = v.GetString("outdir")
	cfg.Auto = v.GetBool("auto")
	cfg.Recurse = !v.GetBool("no-recurse")
	cfg.Force = v.GetBool("force")
	cfg.MinData = v.GetInt("min-data")
	cfg.MaxDepth = v.GetInt("max-depth")
	cfg.FlagFormat = v.GetString("flag-format")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.NoPriority = v.GetBool("no-priority")
	cfg.Units = config.DeduplicateStringSlice(v.GetStringSlice("unit"))
	cfg.Exclude = config.DeduplicateStringSlice(v.GetStringSlice("exclude"))
	cfg.OutputFormat = v.GetString("format")
	cfg.OutputFile = v.GetString("output")
	cfg.ProxyInput = v.GetString("proxy")
	cfg.InsecureSkipVerify = v.GetBool("insecure")
	cfg.RequestTimeout = v.GetDuration("request-timeout")
	cfg.MaxRetries = v.GetInt("retries")
	cfg.Verbosity = v.GetString("loglevel")
	cfg.NoColor = v.GetBool("no-color")
	cfg.Silent = v.GetBool("silent")
	cfg.Progress = v.GetBool("progress")

	// Sections from the config file: unit-options: {xor: {key: "0x41"}}
	if sub := v.Sub("unit-options"); sub != nil {
		for name := range sub.AllSettings() {
			section := make(map[string]string)
			for key, value := range sub.GetStringMapString(name) {
				section[strings.ToLower(key)] = value
			}
			cfg.UnitOptions[strings.ToLower(name)] = section
		}
	}
	for _, opt := range v.GetStringSlice("option") {
		name, rest, ok := strings.Cut(opt, ".")
		key, value, ok2 := strings.Cut(rest, "=")
		if !ok || !ok2 || name == "" || key == "" {
			return nil, fmt.Errorf("invalid unit option %q, expected unit.key=value", opt)
		}
		name = strings.ToLower(name)
		if cfg.UnitOptions[name] == nil {
			cfg.UnitOptions[name] = make(map[string]string)
		}
		cfg.UnitOptions[name][strings.ToLower(key)] = value
	}
	return cfg, nil
}

func run(ctx context.Context, v *viper.Viper, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger := utils.NewDefaultLogger(utils.StringToLogLevel(cfg.Verbosity), cfg.NoColor, cfg.Silent)

	if cfg.ProxyInput != "" {
		proxies, err := utils.ParseProxyInput(cfg.ProxyInput, logger)
		if err != nil {
			logger.Errorf("Invalid proxy input: %v", err)
			return err
		}
		cfg.ParsedProxies = proxies
		logger.Infof("Using %d proxies.", len(proxies))
	}
	logger.Debugf("Configuration: %s", cfg)

	registry := unit.NewRegistry()
	if err := units.RegisterAll(registry); err != nil {
		return err
	}

	reporter := report.NewReporter()
	console := output.NewConsoleMonitor(logger, cfg.NoColor)
	fetcher := networking.NewFetcher(cfg, logger)

	mgr, err := core.NewManager(cfg, registry, core.MultiMonitor{console, reporter}, fetcher, logger)
	if err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	payloads, err := input.NewReader(logger).Resolve(ctx, args)
	if err != nil {
		logger.Errorf("Error reading targets: %v", err)
		return err
	}
	payloads = prefetch(ctx, fetcher, payloads, cfg.Threads, logger)

	if err := mgr.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Errorf("Could not start: %v", err)
		return err
	}
	go func() {
		<-ctx.Done()
		if mgr.State() != core.StateStopped {
			logger.Warnf("Interrupt signal received. Stopping...")
			mgr.Abort()
		}
	}()

	logger.Infof("Starting run %s with %d targets and %d threads", reporter.RunID(), len(payloads), cfg.Threads)
	if err := mgr.QueueTarget(payloads, nil); err != nil {
		logger.Warnf("Some targets could not be queued: %v", err)
	}

	var pb *output.ProgressBar
	if cfg.Progress && !cfg.Silent {
		pb = output.NewProgressBar(0, 30)
		pb.Start()
		go trackProgress(ctx, mgr, pb)
	}

	complete := mgr.Join(v.GetDuration("join-timeout"))
	if pb != nil {
		pb.Stop()
	}
	stats := mgr.Stats()

	if err := reporter.GenerateReport(stats, filepath.Join(cfg.OutDir, "report.json"), "json"); err != nil {
		logger.Warnf("Could not write %s: %v", filepath.Join(cfg.OutDir, "report.json"), err)
	}
	if err := reporter.GenerateReport(stats, cfg.OutputFile, cfg.OutputFormat); err != nil {
		logger.Errorf("Error generating report: %v", err)
		return err
	}
	if !complete {
		logger.Warnf("Run did not finish: %d evaluations, %d items still queued", stats.Evaluations, stats.Pending)
	}
	return nil
}

// prefetch downloads root URL targets concurrently so the manager receives
// ready-made targets. Failed downloads stay plain strings.
func prefetch(ctx context.Context, fetcher *networking.Fetcher, payloads []any, limit int, logger utils.Logger) []any {
	var urls []string
	var idx []int
	for i, p := range payloads {
		if s, ok := p.(string); ok && utils.LooksLikeURL(s) {
			urls = append(urls, s)
			idx = append(idx, i)
		}
	}
	if len(urls) == 0 {
		return payloads
	}

	bodies, err := fetcher.FetchAll(ctx, urls, limit)
	if err != nil {
		logger.Warnf("Some downloads failed: %v", err)
	}
	for n, body := range bodies {
		if body == nil {
			continue
		}
		opts := target.Root()
		opts.URL = urls[n]
		payloads[idx[n]] = target.FromBytes(body, opts)
	}
	return payloads
}

func trackProgress(ctx context.Context, mgr *core.Manager, pb *output.ProgressBar) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := mgr.Stats()
			if stats.State == core.StateStopped.String() {
				return
			}
			pb.Update(int(stats.UnitsDone), int(stats.UnitsQueued))
			pb.SetSuffix(fmt.Sprintf("| flags: %d | downloads: %d", stats.Flags, len(mgr.ActiveDownloads())))
		}
	}
}
