package memory

import (
	"context"
	"sync"
)

const notifyBuffer = 64

// Notifier fans task ids out to in-process subscribers. Publishing never
// blocks: a subscriber with a full buffer already has a wake-up pending.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[chan string]struct{}
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan string]struct{})}
}

func (n *Notifier) NotifyTaskEnqueued(_ context.Context, taskID string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil
	}
	for sub := range n.subs {
		select {
		case sub <- taskID:
		default:
		}
	}
	return nil
}

// SubscribeTaskEnqueued returns a channel closed when ctx ends or the
// notifier shuts down.
func (n *Notifier) SubscribeTaskEnqueued(ctx context.Context) (<-chan string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := make(chan string, notifyBuffer)
	if n.closed {
		close(sub)
		return sub, nil
	}
	n.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[sub]; ok {
			delete(n.subs, sub)
			close(sub)
		}
	}()
	return sub, nil
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		delete(n.subs, sub)
		close(sub)
	}
}
