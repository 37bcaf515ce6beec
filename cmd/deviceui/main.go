package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"net"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/deviceui/internal/api"
	"github.com/mattjoyce/deviceui/internal/auth"
	"github.com/mattjoyce/deviceui/internal/config"
	"github.com/mattjoyce/deviceui/internal/doctor"
	"github.com/mattjoyce/deviceui/internal/eventloop"
	"github.com/mattjoyce/deviceui/internal/events"
	"github.com/mattjoyce/deviceui/internal/host"
	"github.com/mattjoyce/deviceui/internal/hub"
	"github.com/mattjoyce/deviceui/internal/lock"
	"github.com/mattjoyce/deviceui/internal/log"
	"github.com/mattjoyce/deviceui/internal/plugin"
	"github.com/mattjoyce/deviceui/internal/settings"
	"github.com/mattjoyce/deviceui/internal/state"
	"github.com/mattjoyce/deviceui/internal/storage"
	"github.com/mattjoyce/deviceui/internal/supervisor"
	"github.com/mattjoyce/deviceui/internal/tui/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(cmd string, args []string) int {
	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "settings":
		return runSettingsNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		fmt.Printf("deviceui version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`deviceui - Device UI process supervisor and settings synchronizer

Usage:
  deviceui <noun> <action> [flags]

Core Resources (Nouns):
  system    Host lifecycle
  config    Configuration inspection and validation
  settings  Persisted device UI settings

System Commands:
  system start      Start the host in the foreground
  system watch      Live view of the device UI state and events

Config Commands:
  config check      Validate configuration and environment
  config show       Show the resolved configuration
  config get        Read a single configuration value

Settings Commands:
  settings show     Show persisted settings with defaults applied
  settings reset    Clear persisted settings so defaults apply again

General:
  version           Show version information
  help              Show this help message

Use 'deviceui <noun> help' for resource-specific flags.
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
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runSettingsNoun(args []string) int {
	if len(args) < 1 {
		printSettingsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSettingsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "show":
		if hasHelpFlag(actionArgs) {
			printSettingsShowHelp()
			return 0
		}
		return runSettingsShow(actionArgs)
	case "reset":
		if hasHelpFlag(actionArgs) {
			printSettingsResetHelp()
			return 0
		}
		return runSettingsReset(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown settings action: %s\n", action)
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
	fmt.Fprintln(w, "Usage: deviceui system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: deviceui config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show, get")
}

func printSettingsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: deviceui settings <action> [flags]")
	fmt.Fprintln(w, "Actions: show, reset")
}

func printSystemStartHelp() {
	fmt.Println("Usage: deviceui system start [--config PATH] [--db PATH]")
	fmt.Println("Start the host in the foreground: supervise the device UI and serve the control API.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: deviceui system watch [--config PATH] [--api-url URL] [--api-key TOKEN]")
	fmt.Println()
	fmt.Println("Live view of the supervised device UI: state, pid, restarts, last heartbeat")
	fmt.Println("and the tail of /v1/events/stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Control API URL (default: derived from api.listen)")
	fmt.Println("  --api-key TOKEN  Bearer token with ui:ro and events:ro (env: DEVICEUI_API_KEY,")
	fmt.Println("                   default: api.auth.api_key)")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: deviceui config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and that the device UI can be launched.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: deviceui config show [path] [--config PATH] [--json]")
	fmt.Println("Show full resolved configuration or a filtered node.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: deviceui config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration.")
}

func printSettingsShowHelp() {
	fmt.Println("Usage: deviceui settings show [--config PATH] [--db PATH] [--json] [--check]")
	fmt.Println("Show persisted settings of the device UI; --check also converts the structured fields.")
}

func printSettingsResetHelp() {
	fmt.Println("Usage: deviceui settings reset --yes [--config PATH] [--db PATH]")
	fmt.Println("Clear the persisted settings of the device UI. The next start uses screen defaults.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("deviceui starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := state.NewStore(db)
	steps := state.NewStepStore(db)

	hubURL := cfg.Hub.URL
	if cfg.Hub.Embedded {
		srv, err := hub.NewEmbeddedServer(hub.ServerConfig{Host: cfg.Hub.Host, Port: cfg.Hub.Port})
		if err != nil {
			logger.Error("failed to start embedded hub", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		hubURL = srv.ClientURL()
		logger.Info("embedded hub started", "url", hubURL)
	}

	client, err := hub.Connect(hub.ClientOptions{
		URL:            hubURL,
		Name:           cfg.Service.Name,
		SubjectPrefix:  cfg.Hub.SubjectPrefix,
		DefaultTimeout: cfg.Hub.DefaultTimeout,
		Logger:         log.WithComponent("hub"),
	})
	if err != nil {
		logger.Error("failed to connect to hub", "url", hubURL, "error", err)
		return 1
	}
	defer client.Close()

	presence, err := hub.ServePing(client.Conn(), cfg.Hub.SubjectPrefix, cfg.Service.Name, log.WithComponent("hub"))
	if err != nil {
		logger.Error("failed to register on hub", "name", cfg.Service.Name, "error", err)
		return 1
	}
	defer presence.Close()

	// The loop outlives the service tree so the exit sequence can use it.
	loop := eventloop.New(64)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() { _ = loop.Run(loopCtx) }()
	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	ui := plugin.New(cfg, plugin.Deps{
		Loop:    loop,
		Caller:  client,
		Spawner: supervisor.ExecSpawner{Env: os.Environ(), Stdout: os.Stdout, Stderr: os.Stderr},
		Values:  store.PluginValues(cfg.UI.Name),
		Steps:   steps,
		Events:  events.NewHub(256),
		Logger:  log.WithInstance(cfg.UI.Name),
		HubURL:  hubURL,
	})
	defer ui.Close()

	var check host.DependencyCheck
	if cfg.UI.AwaitDependencies {
		check = host.HubPing(client, cfg.UI.Handshake.PingTimeout)
	}
	exitTimeout := 3*cfg.UI.Sync.PullTimeout + 2*cfg.UI.KillTimeout + 5*time.Second

	tree := host.NewTree(log.WithComponent("host"), host.TreeConfig{ShutdownTimeout: exitTimeout + 5*time.Second})
	tree.Add(host.NewPluginService(ui, check, exitTimeout, log.WithComponent("lifecycle")))

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, ui, steps, log.WithComponent("api"))
		tree.Add(host.NewServerService("api", apiServer))
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("deviceui running (press Ctrl+C to stop)", "dependencies", ui.Dependencies())

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service tree failed", "error", err)
		return 1
	}

	logger.Info("deviceui stopped")
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

	result := doctor.New(cfg).Validate()

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

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	var result any = cfg
	if fs.NArg() > 0 {
		res, err := cfg.GetPath(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		result = res
	}
	return printValue(result, *jsonOut)
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	// Allow flags after the path.
	var path string
	var flagArgs []string
	for _, arg := range args {
		if path == "" && len(arg) > 0 && arg[0] != '-' {
			path = arg
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "Usage: deviceui config get <path> [--json]\n")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runSettingsShow(args []string) int {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	check := fs.Bool("check", false, "Convert structured fields and report errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	stored, err := state.NewStore(db).Get(ctx, cfg.UI.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read settings: %v\n", err)
		return 1
	}
	values := stored.WithDefaults(settings.DefaultAppSettings(settings.Screen{
		Width:          cfg.Screen.Width,
		Height:         cfg.Screen.Height,
		Top:            cfg.Screen.Top,
		TitlebarHeight: cfg.Screen.TitlebarHeight,
	}))

	if code := printValue(map[string]any(values), *jsonOut); code != 0 {
		return code
	}

	if *check {
		if _, err := settings.WireToTyped(settings.WireSettings(values)); err != nil {
			fmt.Fprintf(os.Stderr, "Settings conversion failed:\n%v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stderr, "Settings convert cleanly.")
	}
	return 0
}

func printValue(v any, jsonOut bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "YAML format error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", configPath)
	}
	return config.Load(configPath)
}

func runSettingsReset(args []string) int {
	fs := flag.NewFlagSet("settings reset", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Override state.path")
	yes := fs.Bool("yes", false, "Confirm clearing the stored settings")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if !*yes {
		fmt.Fprintln(os.Stderr, "Refusing to clear settings without --yes.")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := state.NewStore(db).Put(ctx, cfg.UI.Name, settings.AppSettings{}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reset settings: %v\n", err)
		return 1
	}
	fmt.Printf("Cleared stored settings for %s\n", cfg.UI.Name)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Control API URL")
	apiKey := fs.String("api-key", os.Getenv("DEVICEUI_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *apiURL == "" || *apiKey == "" {
		cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Pass --api-url and --api-key to watch without a config.")
			return 1
		}
		if *apiURL == "" {
			if !cfg.API.Enabled {
				fmt.Fprintln(os.Stderr, "Error: api.enabled is false; nothing to watch. Use --api-url for a remote host.")
				return 1
			}
			u, err := apiURLFromListen(cfg.API.Listen)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			*apiURL = u
		}
		if *apiKey == "" {
			*apiKey = cfg.API.Auth.APIKey
		}
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or DEVICEUI_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// apiURLFromListen turns an api.listen address into a URL reachable from
// this machine.
func apiURLFromListen(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("api.listen %q: %w", listen, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	return u.String(), nil
}
