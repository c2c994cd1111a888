package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/rueidis"

	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/repository"
)

// DefaultStream is the Redis stream notifications are appended to.
const DefaultStream = "mail:events"

// Publisher delivers notifications to subscribers.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// StreamPublisher appends notifications to a Redis stream.
type StreamPublisher struct {
	client rueidis.Client
	stream string
}

// NewStreamPublisher creates a publisher on stream (DefaultStream when empty).
func NewStreamPublisher(client rueidis.Client, stream string) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}

	return &StreamPublisher{client: client, stream: stream}
}

// Stream returns the stream key.
func (p *StreamPublisher) Stream() string { return p.stream }

// Publish XADDs the notification's name, channel and JSON payload.
func (p *StreamPublisher) Publish(ctx context.Context, n *Notification) error {
	payload, err := n.Encode()
	if err != nil {
		return err
	}

	cmd := p.client.B().Xadd().Key(p.stream).Id("*").
		FieldValue().FieldValue("id", n.ID).
		FieldValue("name", n.Name).
		FieldValue("channel", n.Channel).
		FieldValue("payload", string(payload)).
		Build()

	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to publish %s to stream %s: %w", n.Name, p.stream, err)
	}

	return nil
}

// FromStreamEntry rebuilds a notification from a stream entry written by StreamPublisher.
func FromStreamEntry(entry rueidis.XRangeEntry) (*Notification, error) {
	payload, ok := entry.FieldValues["payload"]
	if !ok {
		return nil, errors.New("missing payload in message")
	}

	return Decode([]byte(payload))
}

// OutboxPublisher stores notifications in the outbox table. Called with a
// transaction in ctx, the notification commits or rolls back with the event.
type OutboxPublisher struct {
	repo repository.OutboxRepository
}

// NewOutboxPublisher creates a publisher writing to repo.
func NewOutboxPublisher(repo repository.OutboxRepository) *OutboxPublisher {
	return &OutboxPublisher{repo: repo}
}

// Publish inserts n as an unpublished outbox row.
func (p *OutboxPublisher) Publish(ctx context.Context, n *Notification) error {
	payload, err := n.Encode()
	if err != nil {
		return err
	}

	_, err = p.repo.CreateEvent(ctx, &model.CreateOutboxEventParams{
		AggregateID: n.Channel,
		EventType:   n.Name,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s in outbox: %w", n.Name, err)
	}

	return nil
}

// Fanout publishes every notification to each of its publishers.
type Fanout []Publisher

// Publish tries every publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, n *Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Recorder keeps published notifications in memory.
type Recorder struct {
	mu            sync.Mutex
	notifications []*Notification
}

// Publish records n.
func (r *Recorder) Publish(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, n)

	return nil
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Notification(nil), r.notifications...)
}

// Names returns the recorded notification names in publish order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.notifications))
	for _, n := range r.notifications {
		names = append(names, n.Name)
	}

	return names
}
