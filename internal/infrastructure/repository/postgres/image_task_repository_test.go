package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/manual-assistant/internal/core/domain"
)

func newTaskRepoWithMock(t *testing.T) (*ImageTaskRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewImageTaskRepository(db, domain.DefaultRetryPolicy()), mock, func() { _ = db.Close() }
}

var taskRowColumns = []string{
	"id", "document_id", "filename", "image_ref", "mime_type", "position", "state",
	"retry_count", "last_error", "record_id", "available_at", "claimed_at", "created_at", "updated_at",
}

func TestEnqueueRejectsMissingImageRef(t *testing.T) {
	repo, _, done := newTaskRepoWithMock(t)
	defer done()

	_, err := repo.Enqueue(context.Background(), &domain.ImageTask{DocumentID: "doc"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnqueueInsertsPendingTask(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO image_tasks").
		WithArgs(sqlmock.AnyArg(), "doc", "a.docx", "images/doc/0.png", "image/png", 0, string(domain.TaskPending), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := repo.Enqueue(context.Background(), &domain.ImageTask{
		DocumentID: "doc", Filename: "a.docx", ImageRef: "images/doc/0.png", MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextUsesSkipLocked(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(string(domain.TaskProcessing), string(domain.TaskPending), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t1", "doc", "a.docx", "images/doc/0.png", "image/png", 0, "processing", 1, "timeout", "", now, now, now, now))

	task, err := repo.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if task == nil || task.ID != "t1" || task.State != domain.TaskProcessing || task.RetryCount != 1 {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.ClaimedAt == nil {
		t.Fatalf("expected claimed_at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE image_tasks").WillReturnError(sql.ErrNoRows)

	task, err := repo.ClaimNext(context.Background())
	if err != nil || task != nil {
		t.Fatalf("expected no task, got %+v, %v", task, err)
	}
}

func TestCompleteRequiresProcessingTask(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE image_tasks").
		WithArgs("t1", string(domain.TaskDone), "rec-1", sqlmock.AnyArg(), string(domain.TaskProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Complete(context.Background(), "t1", "rec-1")
	if !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestFailRequeuesUntilRetryLimit(t *testing.T) {
	cases := []struct {
		name       string
		retryCount int
		cause      error
		want       domain.TaskState
	}{
		{name: "first failure", retryCount: 0, cause: errors.New("timeout"), want: domain.TaskPending},
		{name: "limit reached", retryCount: 2, cause: errors.New("timeout"), want: domain.TaskFailed},
		{name: "bad image", retryCount: 0, cause: domain.WrapError(domain.ErrInvalidInput, "decode", errors.New("bad png")), want: domain.TaskFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock, done := newTaskRepoWithMock(t)
			defer done()

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT retry_count FROM image_tasks").
				WithArgs("t1", string(domain.TaskProcessing)).
				WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(tc.retryCount))
			mock.ExpectExec("UPDATE image_tasks").
				WithArgs("t1", string(tc.want), tc.retryCount+1, tc.cause.Error(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			state, err := repo.Fail(context.Background(), "t1", tc.cause)
			if err != nil {
				t.Fatalf("Fail() error = %v", err)
			}
			if state != tc.want {
				t.Fatalf("expected state %s, got %s", tc.want, state)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestFailUnknownTask(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT retry_count FROM image_tasks").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Fail(context.Background(), "nope", errors.New("x"))
	if !domain.IsKind(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestStatusReportsCountsAndCurrentTask(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT state, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).
			AddRow("pending", 3).
			AddRow("processing", 1).
			AddRow("done", 5).
			AddRow("failed", 1))
	mock.ExpectQuery("SELECT id, document_id, filename, position FROM image_tasks").
		WithArgs(string(domain.TaskProcessing)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "filename", "position"}).AddRow("t9", "doc", "a.docx", 4))

	status, err := repo.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Pending != 3 || status.Done != 5 || status.Failed != 1 || status.Total != 10 {
		t.Fatalf("unexpected counts %+v", status)
	}
	if !status.IsProcessing || status.Current == nil || status.Current.TaskID != "t9" || status.Current.Position != 4 {
		t.Fatalf("unexpected current task %+v", status.Current)
	}
}

func TestRequeueStaleReturnsAffectedRows(t *testing.T) {
	repo, mock, done := newTaskRepoWithMock(t)
	defer done()

	mock.ExpectExec(`(?s)UPDATE image_tasks.*available_at = \$1 \+ LEAST\(\$7::double precision \* power\(2, retry_count\)`).
		WithArgs(sqlmock.AnyArg(), 3, string(domain.TaskFailed), string(domain.TaskPending), string(domain.TaskProcessing), sqlmock.AnyArg(), 2000.0, 60000.0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RequeueStale(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 requeued, got %d", n)
	}
}

func TestRequeueStaleWithoutBackoffCapPassesNullCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewImageTaskRepository(db, domain.RetryPolicy{MaxRetries: 5, BaseBackoff: time.Second})

	mock.ExpectExec("UPDATE image_tasks").
		WithArgs(sqlmock.AnyArg(), 5, string(domain.TaskFailed), string(domain.TaskPending), string(domain.TaskProcessing), sqlmock.AnyArg(), 1000.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := repo.RequeueStale(context.Background(), time.Minute); err != nil {
		t.Fatalf("RequeueStale() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
