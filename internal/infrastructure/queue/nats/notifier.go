package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
)

const (
	subscribeAttempts  = 3
	subscriptionBuffer = 64
)

// Notifier broadcasts image task ids over a NATS subject so idle workers in
// other processes wake up without waiting for their poll interval.
type Notifier struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Notifier, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("manual-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Notifier{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *Notifier) NotifyTaskEnqueued(ctx context.Context, taskID string) error {
	call := func(_ context.Context) error {
		if err := n.conn.Publish(n.subject, []byte(taskID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if n.executor != nil {
		err = n.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapExternalIfNeeded(err)
	}
	return nil
}

// SubscribeTaskEnqueued joins the "workers" queue group so each notification
// wakes exactly one worker. Notifications are dropped when the consumer lags;
// the worker poll loop picks those tasks up.
func (n *Notifier) SubscribeTaskEnqueued(ctx context.Context) (<-chan string, error) {
	out := make(chan string, subscriptionBuffer)

	var sub *nats.Subscription
	err := retry.Do(
		func() error {
			s, err := n.conn.QueueSubscribe(n.subject, "workers", func(msg *nats.Msg) {
				select {
				case out <- string(msg.Data):
				default:
					slog.Warn("task_notification_dropped", "task_id", string(msg.Data))
				}
			})
			if err != nil {
				return fmt.Errorf("nats subscribe: %w", err)
			}
			if err := n.conn.Flush(); err != nil {
				_ = s.Unsubscribe()
				return fmt.Errorf("nats flush: %w", err)
			}
			sub = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(subscribeAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			slog.Warn("nats_subscribe_retry", "attempt", attempt+1, "subject", n.subject, "error", err)
		}),
	)
	if err != nil {
		return nil, wrapExternalIfNeeded(err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			slog.Warn("nats_drain_failed", "subject", n.subject, "error", err)
		}
		// Drain completes asynchronously; wait for the handler to stop before closing out.
		for sub.IsValid() {
			time.Sleep(10 * time.Millisecond)
		}
		close(out)
	}()
	return out, nil
}
