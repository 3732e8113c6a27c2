package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chaz8081/gattprobe/internal/ble"
	"github.com/chaz8081/gattprobe/internal/command"
	"github.com/chaz8081/gattprobe/internal/config"
	"github.com/chaz8081/gattprobe/internal/logger"
	"github.com/chaz8081/gattprobe/internal/logsink"
	"github.com/chaz8081/gattprobe/internal/session"
	"github.com/chaz8081/gattprobe/internal/tracer"
	"github.com/chaz8081/gattprobe/internal/tui"
	"github.com/chaz8081/gattprobe/internal/web"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gattprobe/config.yaml)")
	batch := flag.Bool("batch", false, "read commands from stdin instead of starting the TUI")
	webAddr := flag.String("web", "", "serve the websocket hub on this address (overrides web.listen)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	if err := run(*configPath, *webAddr, *batch); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run wires the session engine to the chosen front end and blocks until
// it exits.
func run(configPath, webAddr string, batch bool) error {
	// Load configuration
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if webAddr != "" {
		cfg.Web.Listen = webAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	// The TUI owns the terminal, so slog goes to a file unless told otherwise.
	if !batch && cfg.Log.Output == "stderr" {
		cfg.Log.Output = config.DefaultLogPath()
		if err := os.MkdirAll(filepath.Dir(cfg.Log.Output), 0755); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
	}
	logg, closeLog, err := logger.New(cfg.LogLevel, cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracer shutdown", "error", err)
		}
	}()

	assumed, err := ble.ParseProperties(cfg.Transport.AssumeProperties)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	adapter, err := ble.NewAdapter(cfg.Transport.Backend, cfg.Transport.AdapterID, assumed)
	if err != nil {
		return fmt.Errorf("initializing BLE adapter: %w", err)
	}

	buffer := logsink.New(cfg.Log.BufferLines, cfg.Log.BufferTrimTo, logg)
	mgr := session.New(adapter, buffer, session.OptionsFromConfig(cfg))
	defer func() {
		if err := mgr.Close(); err != nil {
			slog.Warn("session close", "error", err)
		}
	}()
	slog.Info("gattprobe started", "backend", cfg.Transport.Backend, "batch", batch, "web", cfg.Web.Listen)

	if cfg.Web.Listen != "" {
		lines, unsubscribe := buffer.Subscribe(512)
		defer unsubscribe()
		hub := web.NewHub(command.New(mgr), mgr, lines)
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, hub); err != nil {
				slog.Error("web hub failed", "error", err)
			}
		}()
	}

	if batch {
		err = runBatch(ctx, mgr, buffer)
	} else {
		err = runTUI(ctx, mgr, buffer)
	}
	if err != nil {
		slog.Error("exiting with error", "error", err)
	}
	return err
}

// runTUI drives the session from the terminal UI.
func runTUI(ctx context.Context, mgr *session.Manager, buffer *logsink.Buffer) error {
	lines, unsubscribe := buffer.Subscribe(1024)
	defer unsubscribe()
	buffer.Log("gattprobe ready. Type help for commands.")
	return tui.Run(ctx, tui.New(command.New(mgr), mgr, buffer.Snapshot(), lines))
}

// runBatch executes one command per stdin line, waiting for each to
// finish, and echoes the event log to stdout.
func runBatch(ctx context.Context, mgr *session.Manager, buffer *logsink.Buffer) error {
	lines, unsubscribe := buffer.Subscribe(1024)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for line := range lines {
			fmt.Println(line)
		}
	}()
	defer func() {
		unsubscribe()
		<-printed
	}()

	disp := command.New(mgr)
	disp.Sync = true
	disp.Ack = buffer.Log

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out, err := disp.Execute(ctx, line)
		if errors.Is(err, command.ErrQuit) {
			return nil
		}
		if out != "" {
			buffer.Log(out)
		}
		if err != nil {
			buffer.Log("error: " + err.Error())
		}
	}
	return scanner.Err()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}
