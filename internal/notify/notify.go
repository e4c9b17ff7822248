package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrQueueFull = errors.New("notification queue full")

// Notifier delivers a message to one user. Implementations may be slow;
// callers on a hot path go through a Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID, subject, body string) error {
	n.log.Info("notification", "user_id", userID, "subject", subject, "body", body)
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type message struct {
	userID  string
	subject string
	body    string
}

// Dispatcher makes any Notifier fire-and-forget. Notify never blocks: a full
// queue drops the message and logs it. Delivery errors are logged only.
type Dispatcher struct {
	next  Notifier
	log   *slog.Logger
	queue chan message

	once sync.Once
	done chan struct{}
}

func NewDispatcher(next Notifier, buffer int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		next:  next,
		log:   logger,
		queue: make(chan message, buffer),
		done:  make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(_ context.Context, userID, subject, body string) error {
	select {
	case d.queue <- message{userID: userID, subject: subject, body: body}:
		return nil
	default:
		d.log.Warn("notification dropped", "user_id", userID, "subject", subject, "err", ErrQueueFull)
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled, then drains what is
// already queued with the cancelled context's values but no deadline.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	deliver := func(m message) {
		if err := d.next.Notify(context.WithoutCancel(ctx), m.userID, m.subject, m.body); err != nil {
			d.log.Error("notification failed", "user_id", m.userID, "subject", m.subject, "err", err)
		}
	}
	for {
		select {
		case m := <-d.queue:
			deliver(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-d.queue:
					deliver(m)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}
