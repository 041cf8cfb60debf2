// Package notify is the outbound notification port: a rate-limited,
// fire-and-forget front over pluggable sinks.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Defaults.
const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Notifier accepts notifications. Implementations may drop messages and
// never block the caller on transport.
type Notifier interface {
	Notify(level Level, title, body string)
}

// Message is one delivered notification.
type Message struct {
	Level Level     `json:"level"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
}

// Sink is a concrete transport.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// Nop drops every notification.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(Level, string, string) {}

// Options configures a RateLimited notifier.
type Options struct {
	Interval time.Duration // minimum spacing between delivered messages
	Timeout  time.Duration // per-delivery deadline
	Logger   *zap.Logger
	Now      func() time.Time
}

// RateLimited delivers at most one message per Interval to its sink. Excess
// calls are dropped. Delivery runs in the background; sink errors are logged
// and swallowed.
type RateLimited struct {
	sink    Sink
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	seq       atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a RateLimited notifier over sink.
func New(sink Sink, opts Options) *RateLimited {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateLimited{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		timeout: opts.Timeout,
		logger:  opts.Logger.Named("notify"),
		now:     opts.Now,
	}
}

// Notify sends the message unless the rate limit is exhausted or the
// notifier is closed.
func (n *RateLimited) Notify(level Level, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if n.closed || !n.limiter.AllowN(now, 1) {
		n.dropped.Add(1)
		return
	}
	m := Message{Level: level, Title: title, Body: body, Seq: n.seq.Add(1), At: now.UTC()}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.sink.Send(ctx, m); err != nil {
			n.failed.Add(1)
			n.logger.Warn("notification not delivered", zap.Uint64("seq", m.Seq), zap.Error(err))
			return
		}
		n.delivered.Add(1)
	}()
}

// Stats reports delivery counts.
func (n *RateLimited) Stats() (delivered, dropped, failed uint64) {
	return n.delivered.Load(), n.dropped.Load(), n.failed.Load()
}

// Close stops accepting messages and waits for in-flight deliveries.
func (n *RateLimited) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}

// LogSink writes notifications to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

// Send logs m at its level.
func (s LogSink) Send(_ context.Context, m Message) error {
	fields := []zap.Field{zap.String("title", m.Title), zap.String("body", m.Body), zap.Uint64("seq", m.Seq)}
	switch m.Level {
	case LevelError:
		s.Logger.Error("notification", fields...)
	case LevelWarn:
		s.Logger.Warn("notification", fields...)
	default:
		s.Logger.Info("notification", fields...)
	}
	return nil
}

// Multi fans a message out to every sink and joins their errors.
type Multi []Sink

// Send delivers m to each sink.
func (ms Multi) Send(ctx context.Context, m Message) error {
	var errs []error
	for _, s := range ms {
		if err := s.Send(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
