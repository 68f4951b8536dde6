package certsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// Message is a renewal outcome delivered to the notification channels.
type Message struct {
	Domain  string
	Variant Variant
	Success bool
	Text    string
	Time    time.Time
}

// Title is a one line summary of the message.
func (m Message) Title() string {
	name := m.Variant.OrderName(m.Domain)
	if m.Success {
		return fmt.Sprintf("Certificate for %s renewed", name)
	}
	return fmt.Sprintf("Certificate renewal for %s failed", name)
}

// Notifier delivers a message to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// channel pairs a notifier with the breaker that short-circuits its retries once it
// keeps failing across messages.
type channel struct {
	notifier Notifier
	settings gobreaker.Settings

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func (c *channel) current() *gobreaker.CircuitBreaker[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breaker
}

// reset closes the breaker after the channel recovered.
func (c *channel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](c.settings)
}

// Dispatcher fans a message out to every channel. Delivery is best-effort: each channel
// is retried a bounded number of times and failures are only logged. A channel that keeps
// failing gets a single try per message until it recovers.
type Dispatcher struct {
	channels []*channel
	retrier  *Retrier
	metrics  *Metrics
	logger   *slog.Logger
}

func NewDispatcher(notifiers []Notifier, settings Settings, sleep SleepFunc, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		panic("NewDispatcher: received nil logger")
	}
	logger = logger.With("component", "notify")
	d := &Dispatcher{
		retrier: &Retrier{
			Delay:    settings.NotifyRetryDelay,
			MaxTries: settings.NotifyRetries,
			Sleep:    sleep,
			Logger:   logger,
		},
		metrics: metrics,
		logger:  logger,
	}
	trip := uint32(settings.NotifyRetries)
	for _, n := range notifiers {
		settings := gobreaker.Settings{
			Name:    n.Name(),
			Timeout: 10 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("notification channel state changed", "channel", name, "from", from.String(), "to", to.String())
			},
		}
		d.channels = append(d.channels, &channel{
			notifier: n,
			settings: settings,
			breaker:  gobreaker.NewCircuitBreaker[struct{}](settings),
		})
	}
	return d
}

// Dispatch delivers msg to all channels and waits for them. It never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if len(d.channels) == 0 {
		d.logger.Debug("no notification channels configured")
		return
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			d.deliver(ctx, ch, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// deliver makes at least one real attempt per message. While the breaker is open that
// attempt bypasses it; success closes the breaker again, failure drops the message
// without further retries.
func (d *Dispatcher) deliver(ctx context.Context, ch *channel, msg Message) {
	name := ch.notifier.Name()
	err := d.retrier.Do(ctx, "notify "+name, func(ctx context.Context, attempt int) error {
		_, err := ch.current().Execute(func() (struct{}, error) {
			return struct{}{}, ch.notifier.Notify(ctx, msg)
		})
		if !errors.Is(err, gobreaker.ErrOpenState) {
			return err
		}
		if attempt > 1 {
			return Permanent(err)
		}
		if err := ch.notifier.Notify(ctx, msg); err != nil {
			return Permanent(fmt.Errorf("channel still failing: %w", err))
		}
		d.logger.Info("notification channel recovered", "channel", name)
		ch.reset()
		return nil
	})

	result := "sent"
	if err != nil {
		result = "dropped"
		d.logger.Warn("notification dropped", "channel", name, "domain", msg.Domain, "error", err)
	} else {
		d.logger.Info("notification sent", "channel", name, "domain", msg.Domain)
	}
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(name, result).Inc()
	}
}
