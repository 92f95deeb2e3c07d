// Package archive exports finished treatment cycles to the blob store as
// immutable JSON artifacts. Archival is asynchronous: callers enqueue a cycle
// and poll the job record for completion.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cyclecore/internal/blob"
	"cyclecore/pkg/domain"
)

// JobStatus describes the lifecycle stage of an archive request.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Artifact captures a stored archive object.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobRecord tracks an archive request and its resulting artifact.
type JobRecord struct {
	ID          string     `json:"id"`
	CycleID     string     `json:"cycle_id"`
	RequestedBy string     `json:"requested_by"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Document is the artifact payload: the cycle record at archive time together
// with its full audit history.
type Document struct {
	ArchivedAt time.Time             `json:"archived_at"`
	Cycle      domain.TreatmentCycle `json:"cycle"`
	Audit      []domain.AuditEntry   `json:"audit"`
}

// CycleSource supplies cycle documents and audit history. Any
// domain.CycleStore satisfies it.
type CycleSource interface {
	Load(ctx context.Context, id string) (domain.TreatmentCycle, error)
	History(ctx context.Context, cycleID string) ([]domain.AuditEntry, error)
}

// Worker processes archive requests asynchronously.
type Worker struct {
	source CycleSource
	store  blob.Store

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*JobRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	jobID   string
	cycleID string
}

// NewWorker constructs an archive worker.
func NewWorker(source CycleSource, store blob.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*JobRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing archive requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an archive job for the cycle and returns the queued
// record. The cycle must exist and be in a terminal status.
func (w *Worker) Enqueue(ctx context.Context, cycleID, requestedBy string) (JobRecord, error) {
	if strings.TrimSpace(cycleID) == "" {
		return JobRecord{}, fmt.Errorf("cycle id required")
	}
	cycle, err := w.source.Load(ctx, cycleID)
	if err != nil {
		return JobRecord{}, err
	}
	if !cycle.Status.Terminal() {
		return JobRecord{}, fmt.Errorf("cycle %s is %s; only closed or cancelled cycles can be archived", cycleID, cycle.Status)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := JobRecord{
		ID:          id,
		CycleID:     cycleID,
		RequestedBy: requestedBy,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{jobID: id, cycleID: cycleID}:
	default:
		w.fail(id, "archive queue full")
		return JobRecord{}, fmt.Errorf("archive queue full")
	}

	return snapshot, nil
}

// Job returns a snapshot of the archive job record.
func (w *Worker) Job(id string) (JobRecord, bool) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return JobRecord{}, false
	}
	snapshot := record.copy()
	w.mu.RUnlock()
	return snapshot, true
}

func (w *Worker) process(t task) {
	w.updateStatus(t.jobID, JobStatusRunning, "")

	cycle, err := w.source.Load(w.ctx, t.cycleID)
	if err != nil {
		w.fail(t.jobID, fmt.Sprintf("load cycle: %v", err))
		return
	}
	history, err := w.source.History(w.ctx, t.cycleID)
	if err != nil {
		w.fail(t.jobID, fmt.Sprintf("load audit history: %v", err))
		return
	}

	now := time.Now().UTC()
	doc := Document{ArchivedAt: now, Cycle: cycle, Audit: history}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		w.fail(t.jobID, fmt.Sprintf("encode archive document: %v", err))
		return
	}

	key := Key(cycle.ID, cycle.Version)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"cycle_id": cycle.ID,
			"status":   string(cycle.Status),
			"version":  fmt.Sprintf("%d", cycle.Version),
		},
	})
	if err != nil {
		w.fail(t.jobID, fmt.Sprintf("store artifact: %v", err))
		return
	}

	w.complete(t.jobID, Artifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		CreatedAt:   now,
	})
}

// Key computes the blob key for an archived cycle at a given version. Keys
// include the version so a re-archive after correction never overwrites an
// earlier artifact.
func Key(cycleID string, version int64) string {
	return fmt.Sprintf("cycles/%s/v%d.json", cycleID, version)
}

func (w *Worker) updateStatus(id string, status JobStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifact Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = JobStatusSucceeded
		record.Error = ""
		record.Artifact = &artifact
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = JobStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}

func (r JobRecord) copy() JobRecord {
	dup := r
	if r.Artifact != nil {
		art := *r.Artifact
		dup.Artifact = &art
	}
	return dup
}
