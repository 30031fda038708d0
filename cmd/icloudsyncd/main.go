package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"icloudsyncd/internal/caldavclient"
	"icloudsyncd/internal/config"
	"icloudsyncd/internal/icalenc"
	"icloudsyncd/internal/logging"
	"icloudsyncd/internal/outlookbridge"
	"icloudsyncd/internal/reconcile"
	"icloudsyncd/internal/supervisor"
	"icloudsyncd/internal/trayui"
	"icloudsyncd/internal/tzresolve"
	"icloudsyncd/internal/uidkey"
)

// outlookProcessName is the automation host's process name the bridge
// probes for (spec §4.3 probe_running).
const outlookProcessName = "OUTLOOK.EXE"

type flagConfig struct {
	configPath string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "icloudsyncd: failed to load config %s: %v\n", flags.configPath, err)
		os.Exit(1)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "icloudsyncd: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Options{
		Level:           logging.Level(cfg.LogLevel),
		RollingFilePath: cfg.LogFilePath,
		EventLogPath:    cfg.EventLogFilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "icloudsyncd: failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logging.Info("icloudsyncd starting",
		"config_path", flags.configPath, "once", flags.once, "source_id", cfg.SourceId)

	tzRes := tzresolve.NewResolver()
	sourceLoc, sourceOK := tzRes.Resolve(cfg.SourceTimeZoneId)
	targetLoc, targetOK := tzRes.Resolve(cfg.TargetTimeZoneId)
	if !sourceOK || !targetOK {
		logging.Warn("icloudsyncd: one or more configured time zones were unresolvable, falling back to host local",
			"source_zone", cfg.SourceTimeZoneId, "target_zone", cfg.TargetTimeZoneId)
	}

	client := caldavclient.New(cfg.ICloudUser, cfg.ICloudPassword)
	tray := trayui.NewLogTray()

	encOpts := icalenc.Options{
		SourceID:              cfg.SourceId,
		EventTag:              cfg.EventTag,
		IncludeSecondReminder: cfg.IncludeSecondReminder,
	}
	classifyOpts := uidkey.ClassifyOptions{LooseSourcePrefix: cfg.LooseSourcePrefixClassification}

	reconciler := reconcile.New(client, cfg.CalendarURL(), cfg.SourceId, classifyOpts, encOpts, tray)
	bridge := outlookbridge.New(outlookProcessName, cfg.OutlookHostPath)
	defer bridge.Close()

	sup := supervisor.New(cfg, bridge, reconciler, sourceLoc, targetLoc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("icloudsyncd: signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	go func() {
		<-tray.ExitClicked()
		logging.Info("icloudsyncd: exit requested from tray menu")
		cancel()
	}()

	if flags.once {
		if err := sup.RunOnce(ctx); err != nil {
			logging.Error("icloudsyncd: single cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Error("icloudsyncd: supervisor loop exited unexpectedly", err)
		os.Exit(1)
	}

	time.Sleep(100 * time.Millisecond)
	logging.Info("icloudsyncd exiting")
}

func parseFlags() flagConfig {
	var f flagConfig

	defaultConfigPath := filepath.Join(executableDir(), "icloudsyncd.json")

	flag.StringVar(&f.configPath, "config", defaultConfigPath, "Path to the JSON configuration document")
	flag.StringVar(&f.logLevel, "log-level", "", "Override the configured log level (debug/info/warn/error)")
	flag.BoolVar(&f.once, "once", false, "Run a single sync cycle and exit, instead of the periodic loop")

	flag.Parse()
	return f
}

// executableDir returns the directory containing the running binary, so the
// default config path sits next to the executable (spec §6: "no CLI
// arguments beyond implicit configuration file discovery next to the
// executable" — the --config flag above is an explicit override of that
// default, not a replacement for it).
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
