package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/codefionn/vermittler/vermittler-srv/engine"
	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

var version string

type options struct {
	configPath string
	watch      bool
}

func main() {
	cfg, opts := parseFlagsAndConfig()
	run(cfg, opts)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (*config.Config, options) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "config.json", "Path to configuration file (.json, .hcl, .yaml or .yml)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	watchMode := flag.Bool("watch", false, "Reload when the configuration file changes")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("vermittler version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}

	logger.Info("Starting vermittler")
	logger.Debug("Using configuration file: %s", *configPathPtr)

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}

	logger.Debug("Configuration loaded successfully")
	cfg.KeepGeneratedCredentials(nil)
	for i, fwd := range cfg.ForwardProxies {
		logger.Debug("Forward proxy %d on %s (enabled: %t)", i, fwd.ListenAddress(), fwd.Enabled)
	}
	for i, vs := range cfg.VirtualServers {
		logger.Debug("Virtual server %d on %s (tls: %t, %d location(s), %d static rule(s))",
			i, vs.ListenAddress(), vs.TLSEnabled(), len(vs.Locations), len(vs.Statics))
	}
	logger.Debug("Timeout: %d seconds", cfg.TimeoutSeconds)

	return cfg, options{configPath: *configPathPtr, watch: *watchMode}
}

// run starts the engine and handles signals and reloads until shutdown.
func run(cfg *config.Config, opts options) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	reloadChan := make(chan struct{}, 1)
	if opts.watch {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			err := config.Watch(ctx, opts.configPath, config.DefaultWatchDebounce, func() {
				select {
				case reloadChan <- struct{}{}:
				default:
				}
			})
			if err != nil {
				logger.Error("Config watcher stopped: %v", err)
			}
		}()
	}

	startEngine := func(cfg *config.Config, initial bool) *engine.Engine {
		e := engine.New(cfg)
		go func() {
			logger.Info("Starting listeners...")
			err := e.Start()
			switch {
			case err == nil:
			case initial:
				logger.Fatal("Listener error: %v", err)
			default:
				logger.Error("No listener of the reloaded configuration is running: %v", err)
			}
		}()
		return e
	}

	current := startEngine(cfg, true)
	currentCfg := cfg

	reload := func(reason string) {
		logger.Info("%s: reloading configuration...", reason)
		newCfg, err := config.LoadConfig(opts.configPath)
		if err != nil {
			logger.Error("Failed to reload config: %v (keeping current config)", err)
			return
		}
		newCfg.KeepGeneratedCredentials(currentCfg)
		if !config.HasChanged(currentCfg, newCfg) {
			logger.Info("Config unchanged after reload; not restarting.")
			return
		}
		logger.Info("Config changed. Restarting...")
		if err := current.Stop(); err != nil {
			logger.Error("Error stopping listeners for reload: %v", err)
		}
		current = startEngine(newCfg, false)
		currentCfg = newCfg
		logger.Info("Restarted with new configuration.")
	}

	for {
		select {
		case <-reloadChan:
			reload("Config file changed")
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				reload("Received SIGHUP")
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("Received signal %v, shutting down...", sig)
				if err := current.Stop(); err != nil {
					logger.Error("Error during shutdown: %v", err)
				}
				logger.Info("Shutdown complete")
				return
			}
		}
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}
