package domain

import "time"

type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
)

type ImageTask struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Filename    string     `json:"filename"`
	ImageRef    string     `json:"image_ref"`
	MimeType    string     `json:"mime_type"`
	Position    int        `json:"position"`
	State       TaskState  `json:"state"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	RecordID    string     `json:"record_id,omitempty"`
	AvailableAt time.Time  `json:"available_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CurrentTask struct {
	TaskID     string `json:"task_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Position   int    `json:"position"`
}

type QueueStatus struct {
	Pending      int          `json:"pending"`
	Processing   int          `json:"processing"`
	Done         int          `json:"done"`
	Failed       int          `json:"failed"`
	Total        int          `json:"total"`
	IsProcessing bool         `json:"is_processing"`
	Current      *CurrentTask `json:"current,omitempty"`
}

// RetryPolicy bounds how often a failed image task returns to pending.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  time.Minute,
	}
}

// Exhausted reports whether a task that has failed retryCount times must be parked.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	limit := p.MaxRetries
	if limit <= 0 {
		limit = DefaultRetryPolicy().MaxRetries
	}
	return retryCount >= limit
}

// Backoff returns the delay before the retryCount-th retry may be claimed.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if p.BaseBackoff <= 0 || retryCount <= 0 {
		return 0
	}
	wait := p.BaseBackoff
	for i := 1; i < retryCount; i++ {
		wait *= 2
		if p.MaxBackoff > 0 && wait >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		return p.MaxBackoff
	}
	return wait
}
