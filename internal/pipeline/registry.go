package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/protocol"
)

// WorkerInfo is the registry's view of one worker, assembled from the
// heartbeats it publishes while a run is active.
type WorkerInfo struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Device       string    `json:"device,omitempty"`
	ChaptersDone int       `json:"chapters_done"`
	Busy         bool      `json:"busy"`
	LastSeen     time.Time `json:"last_seen"`
	Healthy      bool      `json:"healthy"`
}

// Registry watches worker heartbeats on the bus and keeps a live
// health table, exported through metrics and the HTTP API. Workers
// that stop heartbeating past the configured timeout are marked
// unhealthy but never removed, so a stalled worker stays visible.
type Registry struct {
	cfg     config.PipelineConfig
	log     *slog.Logger
	bus     *bus.Client
	mu      sync.RWMutex
	workers map[string]*WorkerInfo
	cancel  context.CancelFunc
	subs    []*nats.Subscription
	meter   metric.Meter

	knownGauge metric.Int64ObservableGauge
	busyGauge  metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.PipelineConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "worker-registry")),
		bus:     busClient,
		workers: make(map[string]*WorkerInfo),
		meter:   otel.Meter(instrumentationScope),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorHealth(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	subject := fmt.Sprintf("%s.*", protocol.SubjectWorkerHeartbeat)
	sub, err := r.bus.Conn().Subscribe(subject, r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe worker heartbeats: %w", err)
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid worker heartbeat", slog.String("error", err.Error()))
		return
	}
	if hb.WorkerID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateWorker(hb)
}

func (r *Registry) updateWorker(hb protocol.WorkerHeartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[hb.WorkerID]
	if !ok {
		w = &WorkerInfo{ID: hb.WorkerID}
		r.workers[hb.WorkerID] = w
	}
	w.RunID = hb.RunID
	w.Device = hb.Device
	w.ChaptersDone = hb.ChaptersDone
	w.Busy = hb.Busy
	w.LastSeen = hb.Timestamp
	w.Healthy = true
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := time.Now()
	for _, w := range r.workers {
		if now.Sub(w.LastSeen) > timeout {
			w.Healthy = false
		}
	}
}

// Snapshot returns all known workers ordered by ID.
func (r *Registry) Snapshot() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthyCount reports how many workers heartbeated recently.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, w := range r.workers {
		if w.Healthy {
			count++
		}
	}
	return count
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	known, err := r.meter.Int64ObservableGauge("narra.pipeline.workers",
		metric.WithDescription("Number of workers seen this process"))
	if err != nil {
		return err
	}
	busy, err := r.meter.Int64ObservableGauge("narra.pipeline.workers_busy",
		metric.WithDescription("Workers currently converting a chapter"))
	if err != nil {
		return err
	}
	r.knownGauge = known
	r.busyGauge = busy
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, busyCount := r.snapshotCounts()
		obs.ObserveInt64(known, total)
		obs.ObserveInt64(busy, busyCount)
		return nil
	}, known, busy)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, busy int64
	for _, w := range r.workers {
		total++
		if w.Busy {
			busy++
		}
	}
	return total, busy
}
