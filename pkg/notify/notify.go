// Package notify delivers workflow events to chat services and webhooks.
//
// Delivery is best-effort. Workflows call Notifier.Send after a terminal
// transition has been committed; a failed delivery is logged and counted but
// never reported back to the workflow.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
)

// Event names dispatched by the workflows
const (
	EventElevationExecuted = "elevation.executed"
	EventElevationRevoked  = "elevation.revoked"
	EventSecretApplied     = "secret.applied"
	EventRevealApproved    = "secret.reveal_approved"
	EventReleaseApproved   = "release.approved"
	EventReleaseRejected   = "release.rejected"
	EventAlertReceived     = "alert.received"
)

// Event is a notification about a workflow transition
type Event struct {
	Name       string         `json:"event"`
	OccurredAt time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notifier is the notification collaborator consumed by workflows
type Notifier interface {
	Send(ctx context.Context, e Event)
}

// Channel delivers an event to one destination
type Channel interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Send(context.Context, Event) {}

// Dispatcher fans an event out to every channel in parallel
type Dispatcher struct {
	mu       sync.RWMutex
	channels []Channel
	timeout  time.Duration
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, timeout: 10 * time.Second}
}

// SetChannels replaces the channel set; used when configuration reloads
func (d *Dispatcher) SetChannels(channels ...Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = channels
}

// Channels returns the current channel names
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Send delivers e to every channel and waits up to the dispatcher timeout.
func (d *Dispatcher) Send(ctx context.Context, e Event) {
	d.mu.RLock()
	channels := append([]Channel(nil), d.channels...)
	d.mu.RUnlock()
	if len(channels) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, c := range channels {
		g.Go(func() error {
			if err := c.Deliver(ctx, e); err != nil {
				metrics.IncNotificationFailure(c.Name())
				logging.WithFields(logrus.Fields{
					"event":   e.Name,
					"channel": c.Name(),
				}).WithError(err).Warn("notify: delivery failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Memory records events. Tests use it to assert on dispatches.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

var _ Notifier = (*Memory)(nil)

func (m *Memory) Send(_ context.Context, e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of the recorded events
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Names returns recorded event names in order
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.events))
	for _, e := range m.events {
		names = append(names, e.Name)
	}
	return names
}
