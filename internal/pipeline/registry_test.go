package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/natsserver"
	"github.com/narralabs/narra-core/internal/protocol"
	"github.com/narralabs/narra-core/internal/synth"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{
		Embedded:       true,
		Port:           -1,
		StoreDir:       t.TempDir(),
		StartTimeoutMS: 5000,
	}, discardLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:          []string{srv.ClientURL()},
		ConnectTimeoutMS: 2000,
	}, discardLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestRegistryTracksWorkerHeartbeats(t *testing.T) {
	ctx := context.Background()
	client := startBus(t)

	reg, err := NewRegistry(ctx, config.PipelineConfig{
		HeartbeatIntervalMS: 50,
		HeartbeatTimeoutMS:  150,
	}, client, discardLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	hb := protocol.WorkerHeartbeat{
		RunID:        "run-1",
		WorkerID:     "worker-1",
		Device:       "cuda:0",
		ChaptersDone: 2,
		Busy:         true,
		Timestamp:    time.Now().UTC(),
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectWorkerHeartbeat, hb.WorkerID)
	if err := client.PublishJSON(subject, hb); err != nil {
		t.Fatalf("publish heartbeat: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var seen []WorkerInfo
	for time.Now().Before(deadline) {
		seen = reg.Snapshot()
		if len(seen) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one worker in registry, got %v", seen)
	}
	w := seen[0]
	if w.ID != "worker-1" || w.Device != "cuda:0" || w.ChaptersDone != 2 || !w.Busy || !w.Healthy {
		t.Fatalf("unexpected worker info: %+v", w)
	}
	if reg.HealthyCount() != 1 {
		t.Fatalf("expected one healthy worker")
	}

	// Age the heartbeat past the timeout and re-evaluate.
	reg.mu.Lock()
	reg.workers["worker-1"].LastSeen = time.Now().Add(-time.Second)
	reg.mu.Unlock()
	reg.evaluateHealth()

	if reg.HealthyCount() != 0 {
		t.Fatalf("expected stale worker marked unhealthy, got %v", reg.Snapshot())
	}
	if len(reg.Snapshot()) != 1 {
		t.Fatal("stale workers must stay visible")
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	client := startBus(t)

	sub, err := client.Conn().SubscribeSync("narra.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Drain()

	cfg := testConfig(t)
	orch, err := NewOrchestrator(cfg, Deps{
		Source: threeChapterSource(),
		Bus:    client,
		Log:    discardLogger(),
		Engines: func(string) (synth.Engine, error) {
			return &stubEngine{}, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if _, err := orch.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	subjects := map[string]int{}
	var finishedChapters []protocol.ChapterEvent
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := sub.NextMsg(200 * time.Millisecond)
		if err != nil {
			if subjects[protocol.SubjectRunFinished] > 0 {
				break
			}
			continue
		}
		subjects[msg.Subject]++
		if msg.Subject == protocol.SubjectChapterFinished {
			var ev protocol.ChapterEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				t.Fatalf("decode chapter event: %v", err)
			}
			finishedChapters = append(finishedChapters, ev)
		}
		if subjects[protocol.SubjectRunFinished] > 0 {
			break
		}
	}

	for _, subject := range []string{
		protocol.SubjectRunCost,
		protocol.SubjectRunStarted,
		protocol.SubjectChapterStarted,
		protocol.SubjectChapterFinished,
		protocol.SubjectManifestWritten,
		protocol.SubjectRunFinished,
	} {
		if subjects[subject] == 0 {
			t.Fatalf("expected at least one %s event, saw %v", subject, subjects)
		}
	}
	if subjects[protocol.SubjectChapterFinished] != 3 {
		t.Fatalf("expected 3 chapter.finished events, got %d", subjects[protocol.SubjectChapterFinished])
	}
	for _, ev := range finishedChapters {
		if ev.Status != "ready" {
			t.Fatalf("expected ready chapters, got %+v", ev)
		}
		if ev.Index < 1 || ev.Index > 3 {
			t.Fatalf("chapter index out of range: %+v", ev)
		}
	}
}
