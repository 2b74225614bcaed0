// Package runtime wires the narrad process together: telemetry, the
// progress bus, the run store, the worker registry and the conversion
// pipeline, plus the HTTP surface operators poll while a book converts.
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narralabs/narra-core/internal/book"
	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/natsserver"
	"github.com/narralabs/narra-core/internal/pipeline"
	"github.com/narralabs/narra-core/internal/runstore"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start boots every component, executes one conversion run and tears
// the process down again. It returns when the run has finished or ctx
// is cancelled; a cancelled run still drains in-flight chapters and
// writes the manifest before Start returns.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer ns.Shutdown()

	busCfg := r.cfg.Bus
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := runstore.Open(ctx, r.cfg.RunStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Error("run store close error", slog.String("error", err.Error()))
		}
	}()

	registry, err := pipeline.NewRegistry(ctx, r.cfg.Pipeline, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start worker registry: %w", err)
	}
	defer registry.Close()

	source := book.NewDirSource(r.cfg.Book.Path, r.cfg.Book.Title, r.cfg.Book.Author)
	orch, err := pipeline.NewOrchestrator(r.cfg, pipeline.Deps{
		Source:  source,
		Store:   store,
		Bus:     busClient,
		Log:     r.logger,
		Confirm: promptConfirm(os.Stdin, os.Stdout),
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/workers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(registry.Snapshot()); err != nil {
			r.logger.Warn("failed to encode worker snapshot", slog.String("error", err.Error()))
		}
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	runDone := make(chan error, 1)
	go func() {
		summary, err := orch.Run(ctx)
		if err == nil {
			r.logger.Info("conversion run complete",
				slog.String("run_id", summary.RunID),
				slog.String("state", summary.State),
				slog.Int("ready", summary.Ready),
				slog.Int("failed", summary.Failed),
				slog.Int("skipped", summary.Skipped))
		}
		runDone <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("runtime stopping, draining in-flight chapters")
		runErr = <-runDone
	case runErr = <-runDone:
	}

	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return runErr
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// promptConfirm asks on the terminal whether the run should proceed
// after the cost estimate. Anything but "y" declines. The read runs in
// its own goroutine so a shutdown signal is not stuck behind stdin.
func promptConfirm(in io.Reader, out io.Writer) pipeline.ConfirmFunc {
	reader := bufio.NewReader(in)
	type answer struct {
		line string
		err  error
	}
	return func(ctx context.Context, estimatedUSD float64, totalChars int) (bool, error) {
		fmt.Fprintf(out, "Estimated cost: $%.2f for %d characters.\n", estimatedUSD, totalChars)
		fmt.Fprintln(out, "Do you want to continue? (y/n)")
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{line: line, err: err}
		}()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil && !errors.Is(a.err, io.EOF) {
				return false, a.err
			}
			return strings.EqualFold(strings.TrimSpace(a.line), "y"), nil
		}
	}
}
