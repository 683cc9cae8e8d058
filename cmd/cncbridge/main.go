package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	bridge "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1"
	bridgeerrors "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/errors"
	bridgeevents "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/events"
	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	"github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/notify"
	bridgestate "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/state"

	"github.com/gxo-labs/cncbridge/internal/config"
	"github.com/gxo-labs/cncbridge/internal/events"
	internallink "github.com/gxo-labs/cncbridge/internal/link"
	"github.com/gxo-labs/cncbridge/internal/logger"
	"github.com/gxo-labs/cncbridge/internal/machine"
	"github.com/gxo-labs/cncbridge/internal/metrics"
	"github.com/gxo-labs/cncbridge/internal/monitor"
	"github.com/gxo-labs/cncbridge/internal/retry"
	"github.com/gxo-labs/cncbridge/internal/simulator"
	"github.com/gxo-labs/cncbridge/internal/state"
	"github.com/gxo-labs/cncbridge/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsageError  = 2
	ExitSigIntBase  = 128
	ExitSigInt      = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm     = ExitSigIntBase + int(syscall.SIGTERM)
	ShutdownTimeout = 5 * time.Second
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		runValidateCommand(os.Args[2:])
		return
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(ExitSuccess)
	}
	os.Exit(runBridgeCommand(os.Args[1:]))
}

func printVersion() {
	fmt.Printf("cncbridge version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) {
	validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := validateFlags.String("config", "", "Path to the configuration YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", config.DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -config <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates a cncbridge configuration file against its schema.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing validate flags: %v\n", err)
		os.Exit(ExitUsageError)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		os.Exit(ExitUsageError)
	}

	log := logger.NewLogger(*logLevel, "text", os.Stderr)
	log.Infof("Validating configuration: %s", *configPath)

	if _, err := config.LoadFromFile(*configPath); err != nil {
		logConfigError(log, err)
		os.Exit(ExitFailure)
	}
	log.Infof("Configuration validation successful: %s", *configPath)
	os.Exit(ExitSuccess)
}

func logConfigError(log bridgelog.Logger, err error) {
	var validationErr *bridgeerrors.ValidationError
	var configErr *bridgeerrors.ConfigError
	if errors.As(err, &validationErr) {
		log.Errorf("Configuration validation failed:\n%s", validationErr.Error())
	} else if errors.As(err, &configErr) {
		log.Errorf("Configuration error:\n%s", configErr.Error())
	} else {
		log.Errorf("Failed to load configuration: %v", err)
	}
}

func runBridgeCommand(args []string) int {
	bridgeFlags := flag.NewFlagSet("cncbridge", flag.ExitOnError)
	configPath := bridgeFlags.String("config", "", "Path to the configuration YAML file (built-in defaults when empty)")
	logLevel := bridgeFlags.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	logFormat := bridgeFlags.String("log-format", "", "Log format (text, json); overrides the config file")
	programPath := bridgeFlags.String("program", "", "G-code file to drop onto the link once connected")
	stdinCommands := bridgeFlags.Bool("stdin-commands", false, "Read controller commands from standard input, one per line")
	runFor := bridgeFlags.Duration("run-for", 0, "Stop after this long (0 runs until interrupted)")
	versionFlag := bridgeFlags.Bool("version", false, "Print version information and exit")

	bridgeFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Bridges a controller link to observable machine state and events.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		bridgeFlags.PrintDefaults()
	}

	if err := bridgeFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *versionFlag {
		printVersion()
		return ExitSuccess
	}
	if *logFormat != "" && *logFormat != "text" && *logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}
	if *runFor < 0 {
		fmt.Fprintln(os.Stderr, "Error: -run-for cannot be negative")
		return ExitUsageError
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			logConfigError(logger.NewLogger(config.DefaultLogLevel, "text", os.Stderr), err)
			return ExitFailure
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	var logWriter io.Writer = os.Stderr
	log := logger.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), logWriter)
	log = log.With("cncbridge_version", version)
	log.Infof("cncbridge v%s starting...", version)
	log.Debugf("Poll interval: %s, drain budget: %s", cfg.GetPollInterval(), cfg.GetDrainBudget())

	if !cfg.Simulator.Enabled {
		log.Errorf("No controller connection is configured; enable 'simulator' in the configuration")
		return ExitFailure
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if *runFor > 0 {
		var cancelTimer context.CancelFunc
		ctx, cancelTimer = context.WithTimeout(ctx, *runFor)
		defer cancelTimer()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancelRun()
		case <-ctx.Done():
			log.Debugf("Signal handler exiting because run context is done.")
		}
	}()

	runErr := runBridge(ctx, cfg, log, *programPath, *stdinCommands)
	// runBridge may fail before ctx is done; release the signal goroutine.
	cancelRun()
	wg.Wait()

	sigMu.Lock()
	finalSignal := receivedSignal
	sigMu.Unlock()
	return determineExitCode(runErr, finalSignal, log)
}

// runBridge wires the components and blocks until ctx is done.
func runBridge(ctx context.Context, cfg *config.Config, log bridgelog.Logger, programPath string, stdinCommands bool) error {
	tracerProvider := tracing.NewProviderFromEnv(ctx, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down tracer provider: %v", err)
		}
	}()

	metricsProvider := metrics.NewPrometheusRegistryProvider()
	reg := metricsProvider.Registry()
	observerFailures, err := metrics.NewObserverFailureCounter(reg)
	if err != nil {
		return fmt.Errorf("registering store metrics: %w", err)
	}
	handlerFailures, err := metrics.NewHandlerFailureCounter(reg)
	if err != nil {
		return fmt.Errorf("registering bus metrics: %w", err)
	}
	notifications, err := metrics.NewNotificationCounter(reg)
	if err != nil {
		return fmt.Errorf("registering notification metrics: %w", err)
	}

	store := state.NewObservableStore(log,
		state.WithDefaults(machine.DefaultState()),
		state.WithFailureCounter(observerFailures),
	)
	stateLogger := bridgestate.NewObserver(func(_ string, newValue, oldValue interface{}) error {
		log.Infof("Machine state %v -> %v (color %s)", oldValue, newValue,
			bridgestate.Value(store, machine.KeyColor, machine.DefaultColor))
		return nil
	})
	store.Observe(machine.KeyState, stateLogger)
	defer store.Unobserve(machine.KeyState, stateLogger)

	bus := events.NewSyncEventBus(log, events.WithHandlerFailureCounter(handlerFailures))
	listener := events.NewMetricsEventListener(bus, notifications, log)
	listener.Start(notify.All)
	defer listener.Stop()
	subscribeConsoleLog(bus, log)

	sim := simulator.New(cfg.Simulator, log)
	lnk, err := internallink.New(sim, log, internallink.WithRunEndHook(sim.RunEnded))
	if err != nil {
		return err
	}
	sim.Attach(lnk)

	if cfg.Metrics.ListenAddress != "" {
		stopServer := serveMetrics(cfg.Metrics.ListenAddress, metricsProvider, log)
		defer stopServer()
	}

	poller, err := monitor.NewPoller(lnk, events.NewBusSink(bus, log), log,
		bridge.WithStateStore(store),
		bridge.WithMetricsRegistryProvider(metricsProvider),
		bridge.WithTracerProvider(tracerProvider),
		bridge.WithPollInterval(cfg.GetPollInterval()),
		bridge.WithDrainBudget(cfg.GetDrainBudget()),
		bridge.WithBannerMarkers(cfg.GetBannerMarkers()),
		bridge.WithColorTable(cfg.GetColorTable()),
	)
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	connect := retry.FromConnectConfig(cfg.Connect, "controller connect")
	if err := retry.NewHelper(log).Do(ctx, connect, sim.Connect); err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}

	var producers sync.WaitGroup
	defer producers.Wait()
	producers.Add(1)
	go func() {
		defer producers.Done()
		_ = sim.Run(ctx)
	}()

	if stdinCommands {
		go readCommands(ctx, os.Stdin, lnk.CommandQueue(), log)
	}
	if programPath != "" {
		lnk.SetUploadedFile(programPath)
	} else if cfg.Simulator.JobLines > 0 {
		if err := sim.StartSyntheticJob(cfg.Simulator.JobLines); err != nil {
			log.Warnf("Could not start synthetic job: %v", err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// subscribeConsoleLog mirrors operator-facing notifications to the log.
func subscribeConsoleLog(bus bridgeevents.Bus, log bridgelog.Logger) {
	bus.On(notify.StatusMessage, bridgeevents.NewHandler(func(args ...interface{}) error {
		log.Infof("Status: %v", args...)
		return nil
	}))
	bus.On(notify.SerialError, bridgeevents.NewHandler(func(args ...interface{}) error {
		log.Warnf("Controller error: %v", args...)
		return nil
	}))
	bus.On(notify.SerialReceive, bridgeevents.NewHandler(func(args ...interface{}) error {
		log.Debugf("<< %v", args...)
		return nil
	}))
}

// readCommands feeds stdin lines into the command queue until EOF or ctx is done.
func readCommands(ctx context.Context, r io.Reader, queue *internallink.CommandQueue, log bridgelog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if cmd := strings.TrimSpace(scanner.Text()); cmd != "" {
			queue.Push(cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("Reading commands from stdin: %v", err)
	}
}

func serveMetrics(addr string, provider *metrics.PrometheusRegistryProvider, log bridgelog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(provider.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down metrics server: %v", err)
		}
	}
}

func determineExitCode(runErr error, sig os.Signal, log bridgelog.Logger) int {
	switch {
	case runErr == nil:
		return ExitSuccess
	case sig != nil:
		switch sig {
		case syscall.SIGINT:
			log.Warnf("Bridge interrupted by signal: SIGINT")
			return ExitSigInt
		case syscall.SIGTERM:
			log.Warnf("Bridge terminated by signal: SIGTERM")
			return ExitSigTerm
		default:
			log.Warnf("Bridge terminated by signal: %v", sig)
			return ExitFailure
		}
	case errors.Is(runErr, context.DeadlineExceeded):
		log.Infof("Run duration elapsed, bridge stopped.")
		return ExitSuccess
	case errors.Is(runErr, context.Canceled):
		log.Warnf("Bridge cancelled internally.")
		return ExitFailure
	default:
		log.Errorf("Bridge failed: %v", runErr)
		return ExitFailure
	}
}
