// notifyd is the per-user notification policy daemon.
//
// It owns the durable notification policy (per-app importance, channels,
// bans, staged restores), ranks every active notification through the
// signal extractor pipeline, and exports the control surface on the
// session bus for notifyctl and host shells.
//
//	notifyd                       Run in the foreground
//	notifyd -config FILE          Use an explicit config file
//	notifyd -validate             Check the config and exit
//	notifyd -print-config         Print the effective config and exit
//	notifyd -version              Print the version and exit
//
// SIGHUP reloads the policy snapshot from disk. SIGINT and SIGTERM shut
// the daemon down after a final save.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"notifyd/internal/config"
	"notifyd/internal/daemon"
	"notifyd/internal/dbusapi"
	"notifyd/internal/logging"
	"notifyd/internal/proc"
)

var version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: platform config dir)")
	validate := flag.Bool("validate", false, "validate the config and exit")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("notifyd " + version)
		return nil
	}

	effectivePath := *configPath
	if effectivePath == "" {
		effectivePath = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if *validate {
		fmt.Printf("%s: OK\n", effectivePath)
		return nil
	}
	if *printConfig {
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	logging.SetDefaultCrashHandler(logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  cfg.Daemon.CrashDir,
		Version:   version,
		Component: "notifyd",
	}))
	defer logging.RecoverPanic()

	if created {
		logger.Info("wrote default config", "path", effectivePath)
	}

	mgr := proc.NewManager(cfg.Daemon.PidFile)
	if mgr.IsRunning() {
		pid, _ := mgr.ReadPID()
		return fmt.Errorf("already running (pid %d)", pid)
	}
	if err := mgr.WritePID(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer mgr.Cleanup()

	d, err := daemon.New(cfg, logger.Logger)
	if err != nil {
		return err
	}
	d.SetVersion(version)
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	busName := cfg.Bus.Name + ".Daemon1"
	if cfg.Bus.Enabled {
		srv := dbusapi.NewServer(d, dbusapi.ServerConfig{
			Name:         busName,
			UseSystemBus: cfg.Bus.UseSystemBus,
		}, logger.Logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start bus server: %w", err)
		}
		defer srv.Stop()
	}

	if err := mgr.WriteState(&proc.State{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Version:   version,
		BusName:   busName,
	}); err != nil {
		logger.Warn("write state file", "error", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.Metrics().Registry().HTTPHandler())
		metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint", "error", err)
			}
		}()
		defer metricsSrv.Close()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info("reloading policy", "signal", "SIGHUP")
			if err := d.Reload(); err != nil {
				logger.Error("reload policy", "error", err)
			}
			continue
		}
		logger.Info("shutting down", "signal", sig.String())
		break
	}
	return nil
}

// buildLogger maps the file config onto the logging package. An unknown
// level falls back to info rather than refusing to start.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "notifyd",
	})
}
