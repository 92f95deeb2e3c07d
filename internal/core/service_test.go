package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cyclecore/internal/infra/persistence/memory"
	"cyclecore/pkg/domain"
)

func stimulationPayload() map[string]any {
	return map[string]any{"protocol": "long", "medicationDose": 225.0, "startDate": "2020-06-01"}
}

type capturingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *capturingLogger) log(msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

func (l *capturingLogger) Debug(msg string, _ ...any) { l.log(msg) }
func (l *capturingLogger) Info(msg string, _ ...any)  { l.log(msg) }
func (l *capturingLogger) Warn(msg string, _ ...any)  { l.log(msg) }
func (l *capturingLogger) Error(msg string, _ ...any) { l.log(msg) }

func TestServiceFullLifecycle(t *testing.T) {
	svc := NewInMemoryService(memory.NewStore())
	ctx := context.Background()

	cycle, err := svc.CreateCycle(ctx, "patient-1", "dr-a", "dr-a")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if cycle.Version != 1 || cycle.CurrentStage != domain.StageStimulation {
		t.Fatalf("unexpected new cycle %+v", cycle)
	}

	cycle, err = svc.SaveDraft(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 1, "nurse-1")
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if cycle.Version != 2 {
		t.Fatalf("expected version 2, got %d", cycle.Version)
	}

	cycle, err = svc.CompleteStage(ctx, cycle.ID, domain.StageStimulation, stimulationPayload(), 2, "dr-a")
	if err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if cycle.CurrentStage != domain.StageOocyteRetrieval {
		t.Fatalf("expected advance to OocyteRetrieval, got %s", cycle.CurrentStage)
	}

	loaded, err := svc.GetCycle(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if loaded.Version != cycle.Version {
		t.Fatalf("persisted version %d does not match returned %d", loaded.Version, cycle.Version)
	}

	entries, err := svc.AuditHistory(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("audit history: %v", err)
	}
	wantActions := []domain.AuditAction{domain.ActionCreateCycle, domain.ActionSaveDraft, domain.ActionCompleteStage}
	if len(entries) != len(wantActions) {
		t.Fatalf("expected %d audit entries, got %d", len(wantActions), len(entries))
	}
	for i, entry := range entries {
		if entry.Action != wantActions[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, wantActions[i], entry.Action)
		}
		if entry.AfterVersion != int64(i+1) {
			t.Fatalf("entry %d: expected after_version %d, got %d", i, i+1, entry.AfterVersion)
		}
	}

	cycles, err := svc.ListCycles(ctx)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %d", len(cycles))
	}
}

func TestServiceRejectionsLeaveStateUntouched(t *testing.T) {
	svc := NewInMemoryService(memory.NewStore())
	ctx := context.Background()

	cycle, err := svc.CreateCycle(ctx, "patient-1", "dr-a", "dr-a")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}

	// Stale version.
	var conflict domain.ErrConcurrencyConflict
	if _, err := svc.SaveDraft(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 9, "dr-a"); !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	// Incomplete completion payload.
	var vErr domain.ErrValidationFailed
	if _, err := svc.CompleteStage(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 1, "dr-a"); !errors.As(err, &vErr) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	// Stage two ahead.
	var ooo domain.ErrOutOfOrder
	if _, err := svc.SaveDraft(ctx, cycle.ID, domain.StageFertilization, map[string]any{"method": "ivf"}, 1, "dr-a"); !errors.As(err, &ooo) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	// Unknown cycle.
	var nf domain.ErrNotFound
	if _, err := svc.GetCycle(ctx, "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	loaded, err := svc.GetCycle(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if loaded.Version != 1 {
		t.Fatalf("rejected operations must not bump the version, got %d", loaded.Version)
	}
	entries, err := svc.AuditHistory(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("audit history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("rejected operations must not append audit entries, got %d", len(entries))
	}
}

func TestServiceCancelAndArchiveGuards(t *testing.T) {
	svc := NewInMemoryService(memory.NewStore())
	ctx := context.Background()
	cycle, err := svc.CreateCycle(ctx, "patient-1", "dr-a", "dr-a")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	cancelled, err := svc.CancelCycle(ctx, cycle.ID, "patient request", 1, "dr-a")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.CycleStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}
	var closedErr domain.ErrCycleClosed
	if _, err := svc.SaveDraft(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 2, "dr-a"); !errors.As(err, &closedErr) {
		t.Fatalf("expected ErrCycleClosed after cancel, got %v", err)
	}
}

func TestServiceObservability(t *testing.T) {
	logger := &capturingLogger{}
	recorder := NewExpvarMetricsRecorder("")
	svc := NewInMemoryService(memory.NewStore(), WithLogger(logger), WithMetricsRecorder(recorder))
	ctx := context.Background()

	cycle, err := svc.CreateCycle(ctx, "patient-1", "dr-a", "dr-a")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if _, err := svc.SaveDraft(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 99, "dr-a"); err == nil {
		t.Fatalf("expected conflict")
	}

	snapshot := recorder.Snapshot()
	if snapshot.Results["create_cycle"]["success"] != 1 {
		t.Fatalf("expected create_cycle success recorded, got %+v", snapshot.Results)
	}
	if snapshot.Results["save_draft"]["error"] != 1 {
		t.Fatalf("expected save_draft error recorded, got %+v", snapshot.Results)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.messages) == 0 {
		t.Fatalf("expected log output for service operations")
	}
}

func TestConcurrentWritersOnlyOneWins(t *testing.T) {
	svc := NewInMemoryService(memory.NewStore())
	ctx := context.Background()
	cycle, err := svc.CreateCycle(ctx, "patient-1", "dr-a", "dr-a")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SaveDraft(ctx, cycle.ID, domain.StageStimulation, map[string]any{"protocol": "long"}, 1, "dr-a")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		var conflict domain.ErrConcurrencyConflict
		switch {
		case err == nil:
			wins++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got %d wins %d conflicts", wins, conflicts)
	}

	loaded, err := svc.GetCycle(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("expected version 2 after single win, got %d", loaded.Version)
	}
}

func TestExpvarRecorderAggregation(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "op", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "op", true, 5*time.Millisecond)
	rec.Observe(context.Background(), "op", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	snap := rec.Snapshot()
	if snap.Results["op"]["success"] != 2 || snap.Results["op"]["error"] != 1 {
		t.Fatalf("unexpected result counts %+v", snap.Results)
	}
	if snap.DurationsMS["op"] < 15 {
		t.Fatalf("expected aggregated duration >= 15ms, got %v", snap.DurationsMS["op"])
	}
	if rec.Name() == "" {
		t.Fatalf("expected generated recorder name")
	}
}
