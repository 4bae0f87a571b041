// Majordomo is a home-assistant orchestration service.
//
// It classifies natural-language instructions with a language model,
// delegates them to a specialist agent, runs the capability the agent
// selects, and holds side-effecting actions until the user confirms
// them. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	majordomo serve               Start the API server
//	majordomo init [dir]          Initialize a working directory with defaults
//	majordomo ask <instruction>   Run a single instruction (for testing)
//	majordomo confirm [token]     Confirm the pending action on a running server
//	majordomo cancel              Cancel the pending action on a running server
//	majordomo version             Print version and build information
//	majordomo -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nugget/majordomo/internal/api"
	"github.com/nugget/majordomo/internal/buildinfo"
	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/connwatch"
	"github.com/nugget/majordomo/internal/dispatch"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // "text" (default) or "json"
	session    string
	server     string // base URL of a running server
	envFile    string
}

// run is the real entry point. args is os.Args[1:]. Arguments are
// parsed by hand; the flag package's globals would make run unsafe to
// call concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-session" && i+1 < len(args):
			opts.session = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-session="):
			opts.session = strings.TrimPrefix(args[i], "-session=")
		case args[i] == "-server" && i+1 < len(args):
			opts.server = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-server="):
			opts.server = strings.TrimPrefix(args[i], "-server=")
		case args[i] == "-env" && i+1 < len(args):
			opts.envFile = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-env="):
			opts.envFile = strings.TrimPrefix(args[i], "-env=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: majordomo ask <instruction>")
		}
		return runAsk(ctx, stdout, opts, strings.Join(cmdArgs, " "))
	case "confirm":
		token := ""
		if len(cmdArgs) > 0 {
			token = cmdArgs[0]
		}
		return runRemoteAction(ctx, stdout, opts, "/confirm-action", token)
	case "cancel":
		return runRemoteAction(ctx, stdout, opts, "/cancel-action", "")
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Get()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, kv := range info.Fields() {
		fmt.Fprintf(w, "  %-12s %s\n", kv[0]+":", kv[1])
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Majordomo - Home Assistant Orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: majordomo [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the API server")
	fmt.Fprintln(w, "  init [dir]     Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask            Run a single instruction (for testing)")
	fmt.Fprintln(w, "  confirm [tok]  Confirm the pending action on a running server")
	fmt.Fprintln(w, "  cancel         Cancel the pending action on a running server")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -env <path>       Environment file to load first (default: .env if present)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -session <name>   Pending-action session (default: default)")
	fmt.Fprintln(w, "  -server <url>     Server for confirm/cancel (default: from config)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/majordomo/config.yaml, /etc/majordomo/config.yaml")
	return nil
}

// runAsk runs one instruction through a fully wired engine and prints
// the result. A side-effecting action staged here is lost on exit
// unless the pending store is sqlite.
func runAsk(ctx context.Context, stdout io.Writer, opts options, instruction string) error {
	logger := config.NewLogger(os.Stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	res := app.engine.Handle(ctx, dispatch.Request{Instruction: instruction, Session: opts.session})
	return printResult(stdout, opts.outputFmt, res)
}

func printResult(w io.Writer, outputFmt string, res *dispatch.Result) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Response)
	fmt.Fprintf(w, "\n[%s] %s\n", res.Category, strings.Join(res.Details, "; "))
	if res.NeedsValidation {
		fmt.Fprintf(w, "Pending action: run `majordomo confirm %v` to execute.\n", res.ActionDetails["token"])
	}
	return nil
}

// runServe handles the "majordomo serve" subcommand. It blocks until
// SIGINT or SIGTERM, then drains in-flight requests.
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Majordomo", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger = cfg.Logger(stdout)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Default,
		"lights", cfg.Lights.Backend,
		"pending", cfg.Pending.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// Expired actions are swept so /pending-action and the sqlite file
	// do not keep stale entries.
	if cfg.Pending.TTL > 0 {
		go app.pending.Run(ctx, cfg.Pending.TTL)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, app.engine, logger.With("component", "api"))
	server.SetRouter(app.router)
	server.SetCapabilities(app.caps)
	server.SetEventBus(app.bus)

	watcher := connwatch.NewManager(logger.With("component", "connwatch"), app.bus)
	defer watcher.Stop()
	for name, probe := range app.probes {
		watcher.Watch(ctx, name, probe, connwatch.Backoff{})
	}
	server.SetHealth(watcher)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Majordomo stopped")
	return nil
}

// loadConfig loads the environment file, then locates and parses the
// YAML configuration. An explicit -env file must exist; the default
// .env is optional.
func loadConfig(opts options) (*config.Config, string, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return nil, "", fmt.Errorf("load env file %s: %w", opts.envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, "", fmt.Errorf("load .env: %w", err)
		}
	}

	cfgPath, err := config.FindConfig(opts.configPath)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
