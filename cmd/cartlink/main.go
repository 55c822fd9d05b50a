// Command cartlink talks to a flash cartridge over a serial port or a
// WebSocket hub.
//
// Commands run one-shot from the command line or from the interactive
// shell. The gateway keeps its directory cache across reconnects, and with
// -state-file across restarts too.
//
// Usage:
//
//	cartlink [flags] <command> [args]
//	cartlink [flags] -interactive
//
// Flags:
//
//	-config string            YAML configuration file
//	-impl string              Transport: serial or hub (default "serial")
//	-address string           Serial port name or hub URL
//	-device string            Device to attach (default: first reported)
//	-chunk-size int           Upload chunk size in bytes (default 1024)
//	-download-timeout dur     Blocking download timeout (default 5m)
//	-upload-timeout-per-mb dur  Blocking upload timeout per MiB (default 10s, at least 30s)
//	-verify-uploads           List the target directory after each upload (default true)
//	-protocol-log string      Write a protocol capture (.clog) to this file
//	-state-file string        Persist last target and directory cache
//	-log-level string         Log level: debug, info, warn, error
//	-interactive              Start the interactive shell
//	-reset                    Clear persisted state before starting
//
// The chunk size can also be set with CARTLINK_CHUNK_SIZE and verification
// turned off with CARTLINK_VERIFY_UPLOAD=false. Flags override the
// environment, which overrides the configuration file.
//
// Examples:
//
//	# Show firmware and running ROM
//	cartlink -address /dev/ttyACM0 info
//
//	# Stage three hacks into /work/runYYMMDD_HHMM through the hub
//	cartlink -impl hub stage a.sfc b.sfc c.sfc
//
//	# Read two WRAM ranges in one round trip
//	cartlink -address COM3 read F50010 2 F5F340 4
//
//	# Interactive shell with a capture for cartlink-log
//	cartlink -address COM3 -protocol-log session.clog -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cartlink/cartlink-go/cmd/cartlink/interactive"
	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
	"github.com/cartlink/cartlink-go/pkg/log"
	"github.com/cartlink/cartlink-go/pkg/persistence"
	"github.com/cartlink/cartlink-go/pkg/transport"
)

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage:\n  cartlink [flags] <command> [args]\n  cartlink [flags] -interactive\n\nFlags:\n")
	fs.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nRun 'cartlink help' for the command list.")
}

// switchWriter lets the log destination move to the readline prompt once
// the shell starts.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	registry := transport.DefaultRegistry()

	cfg, rest, err := LoadConfig(args, os.Getenv, registry.Implementations())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if len(rest) == 0 && !cfg.Interactive {
		fmt.Fprintln(os.Stderr, "Error: no command given (use -interactive for the shell)")
		return 2
	}

	level, _ := cfg.Level()
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	var fileLogger *log.FileLogger
	var captures []log.Logger
	if cfg.ProtocolLog != "" {
		fileLogger, err = log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		captures = append(captures, fileLogger)
		logger.Info("protocol capture", "path", cfg.ProtocolLog)
	}
	if level <= slog.LevelDebug {
		captures = append(captures, log.NewSlogAdapter(logger))
	}

	gw := gateway.New(
		gateway.WithLogger(logger),
		gateway.WithProtocolLogger(log.Combine(captures...)),
		gateway.WithRegistry(registry),
		gateway.WithTransportConfig(transport.Config{ChunkSize: cfg.ChunkSize}),
		gateway.WithDownloadTimeout(cfg.DownloadTimeout),
		gateway.WithUploadTimeoutPerMB(cfg.UploadPerMB),
		gateway.WithVerifyUploads(cfg.VerifyUploads),
	)
	defer gw.Disconnect()

	var store *persistence.GatewayStateStore
	if cfg.StateFile != "" {
		store = persistence.NewGatewayStateStore(cfg.StateFile)
		if cfg.Reset {
			if err := store.Clear(); err != nil {
				logger.Warn("failed to clear state", "error", err)
			}
		}
		state, err := store.Load()
		if err != nil {
			logger.Warn("failed to load state", "path", cfg.StateFile, "error", err)
		} else if state != nil {
			state.Apply(gw)
			logger.Debug("state restored", "dirs", len(state.KnownDirs))
		}
		defer func() {
			if err := store.Save(persistence.Capture(gw)); err != nil {
				logger.Warn("failed to save state", "path", cfg.StateFile, "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cfg.Interactive {
		sh := interactive.NewShell(gw, &cfg, os.Stdout)
		if err := sh.Exec(ctx, rest); err != nil && !errors.Is(err, interactive.ErrQuit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, interactive.ErrUsage) {
				return 2
			}
			return 1
		}
		return 0
	}

	sh, err := interactive.New(gw, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	// Route log output through readline so it does not break the prompt.
	logOut.set(sh.Stderr())

	gw.Connection().OnStateChange(func(_, newState connection.State) {
		if newState == connection.StateDisconnected {
			logger.Warn("connection closed")
		}
	})
	if len(rest) > 0 {
		if err := sh.Exec(ctx, rest); err != nil {
			fmt.Fprintf(sh.Stdout(), "Error: %v\n", err)
		}
	}
	sh.Run(ctx, cancel)
	logOut.set(os.Stderr)
	return 0
}
