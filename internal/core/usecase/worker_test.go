package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
	queuememory "github.com/kirillkom/manual-assistant/internal/infrastructure/queue/memory"
)

// completeFailingQueue loses every Complete, as a dropped database would.
type completeFailingQueue struct {
	*queuememory.Queue
}

func (completeFailingQueue) Complete(context.Context, string, string) error {
	return errors.New("connection reset")
}

func TestWorkerDeletesRecordWhenCompleteFails(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.extractor.extraction = oneImageExtraction()
	if _, err := p.ingest.Ingest(ctx, "guide.docx", strings.NewReader("bytes")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	worker := NewImageWorker(WorkerDependencies{
		Queue:     completeFailingQueue{p.queue},
		Storage:   p.storage,
		Describer: p.describer,
		Embedder:  p.embedder,
		Vectors:   p.vectors,
		Observer:  p.observer,
	}, WorkerOptions{})

	processed, err := worker.ProcessNext(ctx)
	if err != nil || !processed {
		t.Fatalf("ProcessNext() = %v, %v", processed, err)
	}
	hits, _ := p.vectors.Query(ctx, []float32{1, 0, 0}, 5, domain.RecordFilter{Kind: domain.KindImageDescription})
	if len(hits) != 0 {
		t.Fatalf("expected orphan description to be removed, got %+v", hits)
	}
	status, _ := p.catalog.QueueStatus(ctx)
	if status.Pending != 1 || status.Done != 0 {
		t.Fatalf("expected task back in pending, got %+v", status)
	}
}

func TestWorkerSendsNormalizedPNGToDescriber(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.extractor.extraction = oneImageExtraction()
	p.extractor.extraction.Images[0].Name = "image1.jpeg"
	p.extractor.extraction.Images[0].MimeType = "image/jpeg"
	if _, err := p.ingest.Ingest(ctx, "guide.docx", strings.NewReader("bytes")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var normalized int
	worker := NewImageWorker(WorkerDependencies{
		Queue:     p.queue,
		Storage:   p.storage,
		Describer: p.describer,
		Embedder:  p.embedder,
		Vectors:   p.vectors,
		Normalize: func(data []byte) ([]byte, error) {
			normalized++
			return []byte("png:" + string(data)), nil
		},
	}, WorkerOptions{})

	if _, err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if normalized != 1 {
		t.Fatalf("expected one normalization, got %d", normalized)
	}
	if p.describer.lastImage.MimeType != "image/png" || !strings.HasPrefix(string(p.describer.lastImage.Data), "png:") {
		t.Fatalf("describer got %q %q", p.describer.lastImage.MimeType, p.describer.lastImage.Data)
	}
}

func TestWorkerRunWakesOnNotification(t *testing.T) {
	p := newPipeline(t)
	p.extractor.extraction = oneImageExtraction()
	notifier := queuememory.NewNotifier()
	t.Cleanup(notifier.Close)

	worker := NewImageWorker(WorkerDependencies{
		Queue:     p.queue,
		Storage:   p.storage,
		Describer: p.describer,
		Embedder:  p.embedder,
		Vectors:   p.vectors,
		Notifier:  notifier,
	}, WorkerOptions{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	result, err := p.ingest.Ingest(ctx, "guide.docx", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	_ = notifier.NotifyTaskEnqueued(ctx, result.ImageTaskIDs[0])

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, _ := p.catalog.QueueStatus(ctx)
		if status.Done == 1 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("task not processed after wake-up, status %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}
}
