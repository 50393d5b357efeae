package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

// Queue is a process-lifetime image task queue. Every transition happens
// under one mutex, so a pending task can be claimed by exactly one caller.
type Queue struct {
	mu     sync.Mutex
	policy domain.RetryPolicy
	now    func() time.Time

	tasks map[string]*domain.ImageTask
	order []string
}

func NewQueue(policy domain.RetryPolicy) *Queue {
	return &Queue{
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]*domain.ImageTask),
	}
}

func (q *Queue) Enqueue(_ context.Context, task *domain.ImageTask) (string, error) {
	if task == nil || task.DocumentID == "" || task.ImageRef == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "enqueue image task", errors.New("document id and image ref are required"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := *task
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := q.tasks[stored.ID]; exists {
		return "", domain.WrapError(domain.ErrInvalidInput, "enqueue image task", fmt.Errorf("duplicate task id %s", stored.ID))
	}
	now := q.now()
	stored.State = domain.TaskPending
	stored.RetryCount = 0
	stored.LastError = ""
	stored.RecordID = ""
	stored.ClaimedAt = nil
	stored.AvailableAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now

	q.tasks[stored.ID] = &stored
	q.order = append(q.order, stored.ID)
	return stored.ID, nil
}

func (q *Queue) ClaimNext(_ context.Context) (*domain.ImageTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, id := range q.order {
		task := q.tasks[id]
		if task.State != domain.TaskPending || task.AvailableAt.After(now) {
			continue
		}
		task.State = domain.TaskProcessing
		claimedAt := now
		task.ClaimedAt = &claimedAt
		task.UpdatedAt = now
		out := *task
		return &out, nil
	}
	return nil, nil
}

func (q *Queue) Complete(_ context.Context, taskID, recordID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.processing(taskID)
	if err != nil {
		return err
	}
	task.State = domain.TaskDone
	task.RecordID = recordID
	task.LastError = ""
	task.UpdatedAt = q.now()
	return nil
}

func (q *Queue) Fail(_ context.Context, taskID string, cause error) (domain.TaskState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.processing(taskID)
	if err != nil {
		return "", err
	}
	q.fail(task, cause)
	return task.State, nil
}

func (q *Queue) fail(task *domain.ImageTask, cause error) {
	now := q.now()
	task.RetryCount++
	if cause != nil {
		task.LastError = cause.Error()
	}
	task.ClaimedAt = nil
	task.UpdatedAt = now
	if q.policy.Exhausted(task.RetryCount) || domain.IsKind(cause, domain.ErrInvalidInput) {
		task.State = domain.TaskFailed
		return
	}
	task.State = domain.TaskPending
	task.AvailableAt = now.Add(q.policy.Backoff(task.RetryCount))
}

func (q *Queue) processing(taskID string) (*domain.ImageTask, error) {
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, domain.WrapError(domain.ErrTaskNotFound, "image task", fmt.Errorf("id=%s", taskID))
	}
	if task.State != domain.TaskProcessing {
		return nil, domain.WrapError(domain.ErrInvalidInput, "image task transition",
			fmt.Errorf("task %s is %s, not processing", taskID, task.State))
	}
	return task, nil
}

func (q *Queue) RequeueStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	n := 0
	for _, id := range q.order {
		task := q.tasks[id]
		if task.State != domain.TaskProcessing || task.ClaimedAt == nil || !task.ClaimedAt.Before(cutoff) {
			continue
		}
		q.fail(task, errors.New("processing lease expired"))
		n++
	}
	return n, nil
}

func (q *Queue) Status(_ context.Context) (domain.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var status domain.QueueStatus
	var current *domain.ImageTask
	for _, id := range q.order {
		task := q.tasks[id]
		switch task.State {
		case domain.TaskPending:
			status.Pending++
		case domain.TaskProcessing:
			status.Processing++
			if current == nil || (task.ClaimedAt != nil && current.ClaimedAt != nil && task.ClaimedAt.Before(*current.ClaimedAt)) {
				current = task
			}
		case domain.TaskDone:
			status.Done++
		case domain.TaskFailed:
			status.Failed++
		}
	}
	status.Total = len(q.order)
	status.IsProcessing = status.Processing > 0
	if current != nil {
		status.Current = &domain.CurrentTask{
			TaskID:     current.ID,
			DocumentID: current.DocumentID,
			Filename:   current.Filename,
			Position:   current.Position,
		}
	}
	return status, nil
}

// Get returns a copy of one task, mostly for inspection in tests and tools.
func (q *Queue) Get(_ context.Context, taskID string) (*domain.ImageTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, domain.WrapError(domain.ErrTaskNotFound, "image task", fmt.Errorf("id=%s", taskID))
	}
	out := *task
	return &out, nil
}
