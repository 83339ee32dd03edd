package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gantryml/gantry/internal/objstore"
	"github.com/gantryml/gantry/internal/storage"
)

// JobTypeIndexBuild is the queue type for out-of-band index builds.
const JobTypeIndexBuild = "index_build"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// IndexBuilder runs one index build for an engine.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, engineID string, docs []Document) error
}

// Worker processes index_build jobs from the SQLite job queue. Documents
// are staged in a bucket by the upload handler; the job payload names the
// bucket and object paths.
type Worker struct {
	jobs    JobStore
	objects objstore.Client
	builder IndexBuilder
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, objects objstore.Client, builder IndexBuilder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:    jobs,
		objects: objects,
		builder: builder,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_build job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{JobTypeIndexBuild})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// BuildPayload is the index_build job payload.
type BuildPayload struct {
	EngineID string   `json:"engine_id"`
	Bucket   string   `json:"bucket"`
	Objects  []string `json:"objects"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload BuildPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.EngineID == "" || len(payload.Objects) == 0 {
		return fmt.Errorf("payload missing engine_id or objects")
	}

	docs := make([]Document, 0, len(payload.Objects))
	for _, name := range payload.Objects {
		content, err := w.download(ctx, payload.Bucket, name)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", name, err)
		}
		docs = append(docs, Document{Name: name, Content: content})
	}

	return w.builder.BuildIndex(ctx, payload.EngineID, docs)
}

func (w *Worker) download(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := w.objects.Download(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
