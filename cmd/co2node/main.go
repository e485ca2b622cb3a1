// Co2node is the control firmware of a networked CO2/temperature
// sensor node, built to run on a host OS against a simulated sensor.
//
// A freshly booted node joins its network, connects to the MQTT broker,
// announces its persistent identity, and waits for the backend to push
// an operating configuration. Once configured it samples on a fixed
// cadence, publishes windowed means, and drives a status light and
// buzzer from the reported CO2 level. Faults restart the node rather
// than repair state in place; a deadman watchdog backstops hangs.
//
// Usage:
//
//	co2node run              Run the sensor node
//	co2node init [dir]       Initialize a working directory with defaults
//	co2node identity         Print the persistent device identity
//	co2node version          Print version and build information
//	co2node -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/airshed-labs/co2node/internal/buildinfo"
	"github.com/airshed-labs/co2node/internal/config"
	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/identity"
	"github.com/airshed-labs/co2node/internal/indicator"
	"github.com/airshed-labs/co2node/internal/netlink"
	"github.com/airshed-labs/co2node/internal/sensor"
	"github.com/airshed-labs/co2node/internal/session"
	"github.com/airshed-labs/co2node/internal/storage"
	"github.com/airshed-labs/co2node/internal/supervisor"
	"github.com/airshed-labs/co2node/internal/transport"
	"github.com/airshed-labs/co2node/internal/watchdog"
	"github.com/airshed-labs/co2node/internal/wire"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the co2node command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the control loop and the broker session.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:], the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var logLevel string
	var logFormat string
	var regenerate bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-log-level" && i+1 < len(args):
			logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log-level="):
			logLevel = strings.TrimPrefix(args[i], "-log-level=")
		case args[i] == "-log-format" && i+1 < len(args):
			logFormat = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log-format="):
			logFormat = strings.TrimPrefix(args[i], "-log-format=")
		case args[i] == "-regenerate" || args[i] == "--regenerate":
			regenerate = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// An explicit path beats the environment, which beats discovery.
	if configPath == "" {
		configPath = os.Getenv("CO2NODE_CONFIG")
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runNode(ctx, stdout, configPath, logLevel, logFormat)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "identity":
		return runIdentity(stdout, stderr, configPath, outputFmt, regenerate)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// co2node is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "co2node - Networked CO2/Temperature Sensor Node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: co2node [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Run the sensor node")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  identity     Print the persistent device identity (-regenerate mints a new one)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: $CO2NODE_CONFIG, then auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -log-level lvl    Override configured log level (debug, info, warn, error)")
	fmt.Fprintln(w, "  -log-format fmt   Override configured log format (console, text, json)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/co2node/config.yaml, /etc/co2node/config.yaml")
	return nil
}

// loadConfig resolves and loads the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// openStorage builds the identity storage named by the config. The
// returned closer is a no-op for drivers with nothing to close.
func openStorage(cfg *config.Config) (identity.Storage, func() error, error) {
	switch cfg.Storage.Driver {
	case "", "file":
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage directory %s: %w", cfg.Storage.Path, err)
		}
		return storage.NewFileStore(cfg.Storage.Path), func() error { return nil }, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create storage directory %s: %w", dir, err)
			}
		}
		store, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage database %s: %w", cfg.Storage.Path, err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %q (expected file or sqlite)", cfg.Storage.Driver)
	}
}

// runNode handles the "co2node run" subcommand. It is the primary
// operating mode: loads config, opens storage, loads or mints the
// device identity, wires the transport and peripherals, and drives the
// session machine on its tick until shutdown or a fatal halt.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The control loop stops and the deadman is disarmed
//  3. The broker session disconnects with a bounded timeout
//
// A session fault takes the other exit: the machine goes terminal, the
// loop stops servicing the deadman, and the deadman ends the process so
// the service manager boots a fresh node.
func runNode(ctx context.Context, stdout io.Writer, configPath, logLevel, logFormat string) error {
	logger, err := config.NewLogger(stdout, "info", "text")
	if err != nil {
		return err
	}
	logger.Info("starting co2node",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Flags override the file for log settings.
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if logFormat == "" {
		logFormat = cfg.LogFormat
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial text logger covers only the startup banner.
	logger, err = config.NewLogger(stdout, logLevel, logFormat)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"broker", cfg.Broker.URL,
		"storage", cfg.Storage.Driver,
		"tick_millis", cfg.Node.TickMillis)

	// --- Identity storage ---
	store, closeStore, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := identity.NewStore(store, logger).Load()
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	logger.Info("device identity ready",
		"identity", id.String(),
		"topic_suffix", id.TopicSuffix())

	// --- Event bus ---
	// Lifecycle events (phase changes, retries, connection churn) fan
	// out here; the debug drain below makes them visible without any
	// component knowing about logging.
	bus := events.New()

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	busCh := bus.Subscribe(32)
	defer bus.Unsubscribe(busCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-busCh:
				if !ok {
					return
				}
				logger.Debug("event", "source", ev.Source, "kind", ev.Kind, "data", ev.Data)
			}
		}
	}()

	// --- Transport ---
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "co2node-" + id.TopicSuffix()
	}
	tr := transport.New(transport.Config{
		BrokerURL:      cfg.Broker.URL,
		ClientID:       clientID,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      uint16(cfg.Broker.KeepAliveSec),
		ConnectTimeout: time.Duration(cfg.Broker.ConnectTimeoutSec) * time.Second,
		OpTimeout:      time.Duration(cfg.Broker.OpTimeoutSec) * time.Second,
		InboxSize:      cfg.Broker.InboxSize,
	}, logger, bus)

	// --- Network joiner ---
	// Hosted builds have no radio to drive; a TCP probe against a
	// known endpoint stands in for "did the link come up".
	var joiner netlink.Joiner
	if cfg.Network.ProbeAddr != "" {
		probe := netlink.NewProbe(cfg.Network.ProbeAddr, logger)
		probe.Timeout = time.Duration(cfg.Network.ProbeTimeoutSec) * time.Second
		joiner = probe
	} else {
		joiner = netlink.Static{Up: true}
	}

	// --- Sensor ---
	var sens sensor.Sensor
	switch cfg.Sensor.Driver {
	case "", "sim":
		seed := cfg.Sensor.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		sens = sensor.NewSim(seed)
		logger.Info("simulated sensor ready", "seed", seed)
	default:
		return fmt.Errorf("unknown sensor driver: %q (expected sim)", cfg.Sensor.Driver)
	}

	// --- Watchdog ---
	window := time.Duration(cfg.Watchdog.WindowSec) * time.Second
	var deadman watchdog.Deadman
	if cfg.Watchdog.Enabled {
		deadman = watchdog.NewSoft(logger, nil)
		logger.Info("deadman enabled", "window", window)
	} else {
		deadman = watchdog.Nop{}
		logger.Warn("deadman disabled, hangs will not be caught")
	}

	sup := supervisor.New(supervisor.Policy{
		MaxAttempts: cfg.Recovery.MaxAttempts,
		Delay:       time.Duration(cfg.Recovery.DelaySec) * time.Second,
	}, deadman, window, logger, bus)

	// --- Session machine ---
	machine := session.New(session.Config{
		TickPeriod:        time.Duration(cfg.Node.TickMillis) * time.Millisecond,
		SSID:              cfg.Network.SSID,
		Passphrase:        cfg.Network.Passphrase,
		SubscribeAttempts: cfg.Node.SubscribeAttempts,
		SubscribeGate:     time.Duration(cfg.Node.SubscribeGateMillis) * time.Millisecond,
		SettleDelay:       time.Duration(cfg.Node.SettleMillis) * time.Millisecond,
		PairingTimeout:    time.Duration(cfg.Node.PairingTimeoutSec) * time.Second,
		PublishAttempts:   cfg.Node.PublishAttempts,
	}, id, session.Deps{
		Transport:  tr,
		Joiner:     joiner,
		Sensor:     sens,
		Supervisor: sup,
		Indicator:  indicator.New(indicator.LogOutput{Log: logger}),
		Logger:     logger,
		Bus:        bus,
	})

	// --- Control loop ---
	// One tick at a time, single execution context. The deadman is
	// serviced after every completed tick; the supervisor disarms it
	// around its own bounded retry pauses.
	ticker := time.NewTicker(time.Duration(cfg.Node.TickMillis) * time.Millisecond)
	defer ticker.Stop()

	deadman.Arm(window)
	defer deadman.Disarm()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			tr.Close(closeCtx)
			logger.Info("co2node stopped")
			return nil

		case now := <-ticker.C:
			machine.Tick(ctx, now.Sub(last))
			last = now

			if machine.Halted() {
				reason := machine.RestartReason()
				if !cfg.Watchdog.Enabled {
					closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer closeCancel()
					tr.Close(closeCtx)
					return fmt.Errorf("session halted: %s", reason)
				}
				// Stop servicing the deadman and let it end the
				// process; the service manager boots a fresh node.
				logger.Error("session halted, deadman will restart the node",
					"reason", reason, "window", window)
				<-ctx.Done()
				return nil
			}

			deadman.Service()
		}
	}
}

// runIdentity prints the persistent device identity, minting one first
// if the configured storage holds none. With regenerate set, the stored
// record is discarded and replaced; the backend will see a new device.
// Log output goes to stderr so stdout stays machine-readable.
func runIdentity(stdout io.Writer, stderr io.Writer, configPath, outputFmt string, regenerate bool) error {
	logger, err := config.NewLogger(stderr, "warn", "text")
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, closeStore, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ids := identity.NewStore(store, logger)
	var id identity.Identity
	if regenerate {
		id, err = ids.Regenerate()
	} else {
		id, err = ids.Load()
	}
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"identity":     id.String(),
			"topic_suffix": id.TopicSuffix(),
			"conf_topic":   wire.ConfTopic(id.TopicSuffix()),
		})
	}

	fmt.Fprintf(stdout, "identity:     %s\n", id.String())
	fmt.Fprintf(stdout, "topic suffix: %s\n", id.TopicSuffix())
	fmt.Fprintf(stdout, "conf topic:   %s\n", wire.ConfTopic(id.TopicSuffix()))
	return nil
}
