package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/trialmatch/internal/api"
	"github.com/mattjoyce/trialmatch/internal/auth"
	"github.com/mattjoyce/trialmatch/internal/bridge"
	"github.com/mattjoyce/trialmatch/internal/cache"
	"github.com/mattjoyce/trialmatch/internal/config"
	"github.com/mattjoyce/trialmatch/internal/doctor"
	"github.com/mattjoyce/trialmatch/internal/events"
	"github.com/mattjoyce/trialmatch/internal/history"
	"github.com/mattjoyce/trialmatch/internal/locator"
	"github.com/mattjoyce/trialmatch/internal/lock"
	"github.com/mattjoyce/trialmatch/internal/log"
	"github.com/mattjoyce/trialmatch/internal/matching"
	"github.com/mattjoyce/trialmatch/internal/records"
	"github.com/mattjoyce/trialmatch/internal/storage"
	"github.com/mattjoyce/trialmatch/internal/tracing"
	"github.com/mattjoyce/trialmatch/internal/tui/watch"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "worker":
		os.Exit(runWorkerNoun(args))

	case "version":
		fmt.Printf("trialmatch version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`trialmatch - Patient/trial matching service

Usage:
  trialmatch <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle
  config    Configuration and integrity
  worker    Matching worker discovery and invocation

System Commands:
  system start      Start the API service in foreground
  system watch      Live view of worker invocations (TUI)

Config Commands:
  config lock       Authorize current config (write .checksums)
  config check      Validate configuration and resolve the worker

Worker Commands:
  worker locate     Show where the worker resolves to
  worker invoke     Run the worker once with a JSON payload

General:
  version           Show version information
  help              Show this help message

Use 'trialmatch <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runWorkerNoun(args []string) int {
	if len(args) < 1 {
		printWorkerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "locate":
		if hasHelpFlag(actionArgs) {
			printWorkerLocateHelp()
			return 0
		}
		return runWorkerLocate(actionArgs)
	case "invoke":
		if hasHelpFlag(actionArgs) {
			printWorkerInvokeHelp()
			return 0
		}
		return runWorkerInvoke(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown worker action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: trialmatch system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: trialmatch config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printWorkerNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: trialmatch worker <action> [flags]")
	fmt.Fprintln(w, "Actions: locate, invoke")
}

func printSystemStartHelp() {
	fmt.Println("Usage: trialmatch system start [--config PATH]")
	fmt.Println("Start the API service in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: trialmatch system watch [--config PATH] [--api URL] [--api-key KEY]")
	fmt.Println("Show worker occupancy and invocations of a running service.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: trialmatch config lock [--config PATH] [-v|--verbose]")
	fmt.Println("Authorize the current configuration by writing its BLAKE3 hash to .checksums.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: trialmatch config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and resolve the worker.")
}

func printWorkerLocateHelp() {
	fmt.Println("Usage: trialmatch worker locate [--config PATH] [--json]")
	fmt.Println("Resolve the worker with the configured strategy and print its location.")
}

func printWorkerInvokeHelp() {
	fmt.Println("Usage: trialmatch worker invoke (--payload JSON | --payload-file PATH) [--config PATH] [--timeout DURATION]")
	fmt.Println("Run the worker once and print its JSON result.")
}

// --- ACTION IMPLEMENTATIONS ---

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("trialmatch starting",
		"version", version,
		"config", cfg.SourcePath,
		"environment", cfg.Service.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(cfg.Service.Name, version, cfg.Service.TraceOutput)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	target := cfg.Store.Path
	if cfg.Store.Driver == config.DriverPostgres {
		target = cfg.Store.DSN
	} else {
		pidLock, err := lock.Acquire(lock.PathFor(cfg.Store.Path))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	db, err := storage.Open(ctx, cfg.Store.Driver, target)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "driver", cfg.Store.Driver)

	patients := records.NewPatients(db)
	trials := records.NewTrials(db)
	matches := records.NewMatches(db)
	recorder := history.NewRecorder(db)

	hub := events.NewHub(0)
	br, err := bridge.FromConfig(cfg.Worker, bridge.Options{
		Notifier: hub,
		Logger:   log.WithComponent("bridge"),
	})
	if err != nil {
		logger.Error("failed to configure worker bridge", "error", err)
		return 1
	}
	logger.Info("worker bridge ready",
		"mode", cfg.Worker.Mode,
		"strategy", cfg.Worker.Strategy,
		"max_concurrent", br.Guard().Limit(),
	)

	matchOpts := matching.Options{
		History: recorder,
		Logger:  log.WithComponent("matching"),
	}
	resultCache := cache.New(cache.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      cfg.Cache.TTL,
		Logger:   log.WithComponent("cache"),
	})
	if resultCache != nil {
		defer resultCache.Close()
		if err := resultCache.Ping(ctx); err != nil {
			logger.Warn("result cache unreachable, continuing without hits", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		matchOpts.Cache = resultCache
	}
	matcher := matching.New(trials, patients, br, matchOpts)

	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	apiServer := api.New(api.Config{
		Listen:         cfg.API.Listen,
		APIKey:         cfg.API.Auth.APIKey,
		Tokens:         tokens,
		AllowedOrigins: cfg.API.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		Environment:    cfg.Service.Environment,
		Production:     cfg.Service.IsProduction(),
		WriteTimeout:   cfg.Worker.Timeout + 30*time.Second,
	}, api.Deps{
		Patients:    patients,
		Trials:      trials,
		Matches:     matches,
		Matcher:     matcher,
		Invocations: recorder,
		Workers:     br.Guard(),
		Events:      hub,
	}, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
		close(errCh)
	}()

	logger.Info("trialmatch running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Wait for in-flight requests to drain.
		for err := range errCh {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("trialmatch stopped")
	return 0
}

func runWatch(args []string) int {
	var configPath, apiURL, apiKey string

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&apiURL, "api", "", "Base URL of the API (default: from config api.listen)")
	fs.StringVar(&apiKey, "api-key", "", "Bearer token (default: from config api.auth.api_key)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if apiURL == "" || apiKey == "" {
		cfg, err := loadConfigForTool(configPath)
		if err != nil && apiURL == "" {
			fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
			return 1
		}
		if cfg != nil {
			if apiURL == "" {
				apiURL = "http://" + cfg.API.Listen
			}
			if apiKey == "" {
				apiKey = cfg.API.Auth.APIKey
			}
		}
	}

	if err := watch.Run(watch.Client{BaseURL: apiURL, APIKey: apiKey}); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate(context.Background())

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}
	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, "config.yaml")
	}

	report, err := config.Lock(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		fmt.Printf("  HASH %s: %s\n", report.File, report.Hash)
	}
	fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	return 0
}

func runWorkerLocate(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	if cfg.Worker.Mode == config.WorkerModeHTTP {
		fmt.Printf("Worker runs over HTTP at %s; nothing to locate.\n", cfg.Worker.URL)
		return 0
	}

	loc, err := locator.FromConfig(cfg.Worker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Locator error: %v\n", err)
		return 1
	}
	found, err := loc.Resolve(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker not found: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"path": found.Path,
			"dir":  found.Dir,
			"root": found.Root,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("path: %s\ndir:  %s\nroot: %s\n", found.Path, found.Dir, found.Root)
	return 0
}

func runWorkerInvoke(args []string) int {
	var configPath, payload, payloadFile string
	var timeout time.Duration

	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&payload, "payload", "", "JSON payload")
	fs.StringVar(&payloadFile, "payload-file", "", "File containing the JSON payload")
	fs.DurationVar(&timeout, "timeout", 0, "Override worker.timeout")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if (payload == "") == (payloadFile == "") {
		fmt.Fprintf(os.Stderr, "Error: exactly one of --payload or --payload-file is required\n")
		return 1
	}
	raw := []byte(payload)
	if payloadFile != "" {
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
			return 1
		}
		raw = data
	}
	if !json.Valid(raw) {
		fmt.Fprintf(os.Stderr, "Error: payload is not valid JSON\n")
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	// stdout carries the worker result only.
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)

	br, err := bridge.FromConfig(cfg.Worker, bridge.Options{Logger: log.WithComponent("bridge")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
		return 1
	}

	res, err := br.Invoke(context.Background(), bridge.Request{
		Payload: json.RawMessage(raw),
		Timeout: timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invocation failed: %v\n", err)
		var be *bridge.Error
		if errors.As(err, &be) && be.Diagnostic != "" {
			fmt.Fprintf(os.Stderr, "--- worker diagnostic ---\n%s\n", be.Diagnostic)
		}
		return 1
	}

	fmt.Println(string(res.Raw))
	return 0
}
