package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

const imageTaskColumns = `id, document_id, filename, image_ref, mime_type, position, state, retry_count, last_error, record_id, available_at, claimed_at, created_at, updated_at`

// ImageTaskRepository is a durable image task queue. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never share a task.
type ImageTaskRepository struct {
	db     *sql.DB
	policy domain.RetryPolicy
}

func NewImageTaskRepository(db *sql.DB, policy domain.RetryPolicy) *ImageTaskRepository {
	return &ImageTaskRepository{db: db, policy: policy}
}

func (r *ImageTaskRepository) Enqueue(ctx context.Context, task *domain.ImageTask) (string, error) {
	if task == nil || task.DocumentID == "" || task.ImageRef == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "enqueue image task", errors.New("document id and image ref are required"))
	}
	id := task.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO image_tasks (id, document_id, filename, image_ref, mime_type, position, state, retry_count, last_error, record_id, available_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,'','',$8,$8,$8)
`, id, task.DocumentID, task.Filename, task.ImageRef, task.MimeType, task.Position, string(domain.TaskPending), now)
	if err != nil {
		return "", fmt.Errorf("insert image task: %w", err)
	}
	return id, nil
}

func (r *ImageTaskRepository) ClaimNext(ctx context.Context) (*domain.ImageTask, error) {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
UPDATE image_tasks
SET state = $1, claimed_at = $3, updated_at = $3
WHERE id = (
	SELECT id FROM image_tasks
	WHERE state = $2 AND available_at <= $3
	ORDER BY seq
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+imageTaskColumns,
		string(domain.TaskProcessing), string(domain.TaskPending), now)

	task, err := scanImageTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim image task: %w", err)
	}
	return &task, nil
}

func (r *ImageTaskRepository) Complete(ctx context.Context, taskID, recordID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE image_tasks
SET state = $2, record_id = $3, last_error = '', updated_at = $4
WHERE id = $1 AND state = $5
`, taskID, string(domain.TaskDone), recordID, time.Now().UTC(), string(domain.TaskProcessing))
	if err != nil {
		return fmt.Errorf("complete image task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete image task rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrTaskNotFound, "complete image task", fmt.Errorf("no processing task id=%s", taskID))
	}
	return nil
}

func (r *ImageTaskRepository) Fail(ctx context.Context, taskID string, cause error) (domain.TaskState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var retryCount int
	err = tx.QueryRowContext(ctx, `
SELECT retry_count FROM image_tasks
WHERE id = $1 AND state = $2
FOR UPDATE
`, taskID, string(domain.TaskProcessing)).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrTaskNotFound, "fail image task", fmt.Errorf("no processing task id=%s", taskID))
		}
		return "", fmt.Errorf("lock image task: %w", err)
	}

	retryCount++
	now := time.Now().UTC()
	state := domain.TaskPending
	if r.policy.Exhausted(retryCount) || domain.IsKind(cause, domain.ErrInvalidInput) {
		state = domain.TaskFailed
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	_, err = tx.ExecContext(ctx, `
UPDATE image_tasks
SET state = $2, retry_count = $3, last_error = $4, available_at = $5, claimed_at = NULL, updated_at = $6
WHERE id = $1
`, taskID, string(state), retryCount, lastError, now.Add(r.policy.Backoff(retryCount)), now)
	if err != nil {
		return "", fmt.Errorf("update failed image task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit fail tx: %w", err)
	}
	return state, nil
}

// RequeueStale applies Fail semantics to tasks whose claim outlived the lease.
func (r *ImageTaskRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	limit := r.policy.MaxRetries
	if limit <= 0 {
		limit = domain.DefaultRetryPolicy().MaxRetries
	}

	baseMs, capMs := r.backoffMillis()

	// retry_count on the right-hand side is the value before the increment,
	// so base * 2^retry_count matches RetryPolicy.Backoff(retry_count + 1).
	result, err := r.db.ExecContext(ctx, `
UPDATE image_tasks
SET state = CASE WHEN retry_count + 1 >= $2 THEN $3 ELSE $4 END,
	retry_count = retry_count + 1,
	last_error = 'processing lease expired',
	available_at = $1 + LEAST($7::double precision * power(2, retry_count), $8::double precision) * interval '1 millisecond',
	claimed_at = NULL,
	updated_at = $1
WHERE state = $5 AND claimed_at < $6
`, now, limit, string(domain.TaskFailed), string(domain.TaskPending), string(domain.TaskProcessing), now.Add(-olderThan), baseMs, capMs)
	if err != nil {
		return 0, fmt.Errorf("requeue stale image tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale rows affected: %w", err)
	}
	return int(rows), nil
}

// backoffMillis returns the policy backoff bounds for SQL. A nil cap leaves
// the delay uncapped because LEAST ignores NULL.
func (r *ImageTaskRepository) backoffMillis() (float64, any) {
	var base float64
	if r.policy.BaseBackoff > 0 {
		base = float64(r.policy.BaseBackoff.Milliseconds())
	}
	if r.policy.MaxBackoff <= 0 {
		return base, nil
	}
	return base, float64(r.policy.MaxBackoff.Milliseconds())
}

func (r *ImageTaskRepository) Status(ctx context.Context) (domain.QueueStatus, error) {
	var status domain.QueueStatus

	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM image_tasks GROUP BY state`)
	if err != nil {
		return status, fmt.Errorf("count image tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return status, fmt.Errorf("scan image task count: %w", err)
		}
		switch domain.TaskState(state) {
		case domain.TaskPending:
			status.Pending = n
		case domain.TaskProcessing:
			status.Processing = n
		case domain.TaskDone:
			status.Done = n
		case domain.TaskFailed:
			status.Failed = n
		}
		status.Total += n
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("iterate image task counts: %w", err)
	}
	status.IsProcessing = status.Processing > 0
	if !status.IsProcessing {
		return status, nil
	}

	var current domain.CurrentTask
	err = r.db.QueryRowContext(ctx, `
SELECT id, document_id, filename, position FROM image_tasks
WHERE state = $1
ORDER BY claimed_at
LIMIT 1
`, string(domain.TaskProcessing)).Scan(&current.TaskID, &current.DocumentID, &current.Filename, &current.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status, nil
		}
		return status, fmt.Errorf("read current image task: %w", err)
	}
	status.Current = &current
	return status, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImageTask(row rowScanner) (domain.ImageTask, error) {
	var task domain.ImageTask
	var state string
	var claimedAt sql.NullTime
	err := row.Scan(
		&task.ID,
		&task.DocumentID,
		&task.Filename,
		&task.ImageRef,
		&task.MimeType,
		&task.Position,
		&state,
		&task.RetryCount,
		&task.LastError,
		&task.RecordID,
		&task.AvailableAt,
		&claimedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return domain.ImageTask{}, err
	}
	task.State = domain.TaskState(state)
	if claimedAt.Valid {
		ts := claimedAt.Time
		task.ClaimedAt = &ts
	}
	return task, nil
}
