// Command rcc runs the routing gateway.
//
// Exit codes: 0 on clean shutdown, 1 on configuration or assembly failure,
// 2 on runtime failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/routecc/rcc/config"
	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/gateway"
	"github.com/routecc/rcc/pipeline"
	"github.com/routecc/rcc/prober"
	"github.com/routecc/rcc/scheduler"
	"github.com/routecc/rcc/telemetry"

	_ "github.com/routecc/rcc/providers/anthropic"
	_ "github.com/routecc/rcc/providers/gemini"
	_ "github.com/routecc/rcc/providers/openai"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	traceOut := flag.Bool("trace-stdout", false, "emit otel spans to stdout")
	flag.Parse()

	logger := core.NewProductionLogger("rcc")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Configuration load failed", map[string]interface{}{
			"operation": "startup",
			"path":      *configPath,
			"error":     err.Error(),
		})
		return exitConfig
	}

	var spanOut io.Writer = io.Discard
	if *traceOut {
		spanOut = os.Stdout
	}
	tel, err := telemetry.NewTelemetry(spanOut)
	if err != nil {
		logger.Error("Telemetry initialization failed", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return exitConfig
	}

	store, err := telemetry.NewStore(cfg.Trace, logger)
	if err != nil {
		logger.Error("Trace store initialization failed", map[string]interface{}{
			"operation": "startup",
			"backend":   cfg.Trace.Backend,
			"error":     err.Error(),
		})
		return exitConfig
	}
	tracker := telemetry.NewTracker(store, logger)
	defer tracker.Close()

	asm, err := pipeline.NewAssembler(logger, tel).Assemble(cfg)
	if err != nil {
		logger.Error("Assembly failed", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return exitConfig
	}
	for _, d := range asm.Diagnostics {
		logger.Warn("Assembly diagnostic", map[string]interface{}{
			"operation":  "startup",
			"diagnostic": d,
		})
	}
	if !asm.Success {
		logger.Error("No routable virtual models; refusing to serve", map[string]interface{}{
			"operation": "startup",
		})
		return exitConfig
	}

	manager := scheduler.NewManager(tracker, logger, tel)
	manager.InstallPools(asm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reload(*configPath, logger, tel, manager); err != nil {
				logger.Error("Reload failed; keeping current pools", map[string]interface{}{
					"operation": "reload",
					"path":      *configPath,
					"error":     err.Error(),
				})
				continue
			}
			logger.Info("Configuration reloaded", map[string]interface{}{
				"operation": "reload",
				"path":      *configPath,
			})
		}
	}()

	if cfg.Prober.Enabled {
		p := prober.New(cfg.Prober, asm.Adapters, asm.Rotators, asm.ModelTables, logger)
		go func() {
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Prober stopped", map[string]interface{}{
					"operation": "probe",
					"error":     err.Error(),
				})
			}
		}()
	}

	server := gateway.NewServer(cfg.Server, manager, tracker, asm.Diagnostics, logger)
	if err := server.Listen(); err != nil {
		logger.Error("Listener bind failed", map[string]interface{}{
			"operation": "startup",
			"error":     err.Error(),
		})
		return exitConfig
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", map[string]interface{}{
				"operation": "serve",
				"error":     err.Error(),
			})
			return exitRuntime
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received", map[string]interface{}{
			"operation": "shutdown",
			"timeout":   cfg.Server.ShutdownTimeout.String(),
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Listener shutdown incomplete", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
	}
	remaining := manager.Shutdown(shutdownCtx)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Debug("Telemetry flush incomplete", map[string]interface{}{
			"operation": "shutdown",
			"error":     err.Error(),
		})
	}

	if remaining > 0 {
		fmt.Fprintf(os.Stderr, "shutdown abandoned %d in-flight requests\n", remaining)
		return exitRuntime
	}
	return exitOK
}

// reload re-reads the configuration and swaps the routing pools in place.
// The old pools keep draining their in-flight requests. A backup of the
// newly accepted file is written so the last-known-good config survives
// later hand edits.
func reload(path string, logger core.Logger, tel core.Telemetry, manager *scheduler.Manager) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	asm, err := pipeline.NewAssembler(logger, tel).Assemble(cfg)
	if err != nil {
		return err
	}
	for _, d := range asm.Diagnostics {
		logger.Warn("Assembly diagnostic", map[string]interface{}{
			"operation":  "reload",
			"diagnostic": d,
		})
	}
	if !asm.Success {
		return fmt.Errorf("no routable virtual models in %s", path)
	}

	if backupPath, err := config.Backup(path); err != nil {
		logger.Warn("Config backup failed", map[string]interface{}{
			"operation": "reload",
			"error":     err.Error(),
		})
	} else {
		logger.Info("Config backup written", map[string]interface{}{
			"operation": "reload",
			"backup":    backupPath,
		})
	}

	manager.InstallPools(asm)
	return nil
}
