package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	"github.com/kirillkom/manual-assistant/internal/core/ports"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultTaskLease    = 10 * time.Minute
	maxStoredImageSize  = 32 << 20
)

// WorkerObserver receives task outcomes: "done", "retry" or "failed".
type WorkerObserver interface {
	StartTask()
	FinishTask(outcome string, duration time.Duration)
	ObserveQueueLag(lag time.Duration)
}

type WorkerDependencies struct {
	Queue     ports.ImageTaskQueue
	Storage   ports.ObjectStorage
	Describer ports.ImageDescriber
	Embedder  ports.Embedder
	Vectors   ports.VectorStore
	// Notifier is optional; without it the worker only polls.
	Notifier ports.TaskNotifier
	// Normalize converts stored image bytes into PNG. Nil passes bytes through.
	Normalize func(data []byte) ([]byte, error)
	Observer  WorkerObserver
}

type WorkerOptions struct {
	PollInterval  time.Duration
	TaskLease     time.Duration
	VisionTimeout time.Duration
	EmbedTimeout  time.Duration
}

// ImageWorker turns queued images into image-description records, one task
// at a time.
type ImageWorker struct {
	deps WorkerDependencies
	opts WorkerOptions
	now  func() time.Time
}

func NewImageWorker(deps WorkerDependencies, opts WorkerOptions) *ImageWorker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.TaskLease <= 0 {
		opts.TaskLease = defaultTaskLease
	}
	if deps.Normalize == nil {
		deps.Normalize = func(data []byte) ([]byte, error) { return data, nil }
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	return &ImageWorker{deps: deps, opts: opts, now: time.Now}
}

// Run processes tasks until ctx is cancelled. Between tasks it sleeps until a
// wake-up notification arrives or the poll interval passes.
func (w *ImageWorker) Run(ctx context.Context) error {
	var wake <-chan string
	if w.deps.Notifier != nil {
		ch, err := w.deps.Notifier.SubscribeTaskEnqueued(ctx)
		if err != nil {
			slog.Warn("worker_subscribe_failed", "error", err)
		} else {
			wake = ch
		}
	}

	w.requeueStale(ctx)
	slog.Info("image_worker_started", "poll_interval", w.opts.PollInterval.String())

	for {
		if ctx.Err() != nil {
			slog.Info("image_worker_stopped")
			return nil
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("image_worker_error", "error", err)
		}
		if processed && err == nil {
			continue
		}

		w.requeueStale(ctx)
		timer := time.NewTimer(w.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case _, ok := <-wake:
			timer.Stop()
			if !ok {
				wake = nil
			}
		case <-timer.C:
		}
	}
}

func (w *ImageWorker) ProcessNext(ctx context.Context) (bool, error) {
	task, err := w.deps.Queue.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim image task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	start := w.now()
	w.deps.Observer.StartTask()
	w.deps.Observer.ObserveQueueLag(start.Sub(task.CreatedAt))

	recordID, err := w.describeTask(ctx, task)
	if err == nil {
		err = w.deps.Queue.Complete(ctx, task.ID, recordID)
		if err == nil {
			w.deps.Observer.FinishTask("done", w.now().Sub(start))
			slog.Info("image_task_done",
				"task_id", task.ID,
				"document_id", task.DocumentID,
				"position", task.Position,
				"record_id", recordID,
			)
			return true, nil
		}
		err = fmt.Errorf("complete image task: %w", err)
		if delErr := w.deps.Vectors.Delete(context.WithoutCancel(ctx), recordID); delErr != nil {
			slog.Warn("orphan_record_delete_failed", "record_id", recordID, "error", delErr)
		}
	}

	// The task must leave processing even when shutdown interrupted it.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	state, failErr := w.deps.Queue.Fail(failCtx, task.ID, err)
	outcome := "retry"
	if state == domain.TaskFailed {
		outcome = "failed"
	}
	w.deps.Observer.FinishTask(outcome, w.now().Sub(start))
	if failErr != nil {
		return true, fmt.Errorf("record image task failure: %w", failErr)
	}
	slog.Warn("image_task_failed",
		"task_id", task.ID,
		"document_id", task.DocumentID,
		"position", task.Position,
		"retry_count", task.RetryCount+1,
		"state", string(state),
		"error", err,
	)
	return true, nil
}

func (w *ImageWorker) describeTask(ctx context.Context, task *domain.ImageTask) (string, error) {
	data, err := w.loadImage(ctx, task.ImageRef)
	if err != nil {
		return "", err
	}
	png, err := w.deps.Normalize(data)
	if err != nil {
		return "", err
	}

	visionCtx, cancel := withOptionalTimeout(ctx, w.opts.VisionTimeout)
	description, err := w.deps.Describer.Describe(visionCtx, domain.ExtractedImage{
		Position: task.Position,
		Name:     path.Base(task.ImageRef),
		MimeType: "image/png",
		Data:     png,
	})
	cancel()
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return "", domain.WrapError(domain.ErrExternalService, "describe image", errors.New("empty description"))
	}

	embedCtx, cancel := withOptionalTimeout(ctx, w.opts.EmbedTimeout)
	vectors, err := w.deps.Embedder.Embed(embedCtx, []string{description})
	cancel()
	if err != nil {
		return "", fmt.Errorf("embed description: %w", err)
	}
	if len(vectors) != 1 {
		return "", domain.WrapError(domain.ErrExternalService, "embed description",
			fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}

	recordID, err := w.deps.Vectors.Upsert(ctx, domain.VectorRecord{
		ID:         uuid.NewString(),
		DocumentID: task.DocumentID,
		Filename:   task.Filename,
		Kind:       domain.KindImageDescription,
		Position:   task.Position,
		Content:    description,
		Embedding:  vectors[0],
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("index description: %w", err)
	}
	return recordID, nil
}

func (w *ImageWorker) loadImage(ctx context.Context, ref string) ([]byte, error) {
	rc, err := w.deps.Storage.Open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxStoredImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxStoredImageSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read image", fmt.Errorf("image exceeds %d bytes", maxStoredImageSize))
	}
	return data, nil
}

func (w *ImageWorker) requeueStale(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := w.deps.Queue.RequeueStale(ctx, w.opts.TaskLease)
	if err != nil {
		slog.Warn("requeue_stale_failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("requeued_stale_tasks", "count", n, "lease", w.opts.TaskLease.String())
	}
}

type noopObserver struct{}

func (noopObserver) StartTask()                       {}
func (noopObserver) FinishTask(string, time.Duration) {}
func (noopObserver) ObserveQueueLag(time.Duration)    {}
