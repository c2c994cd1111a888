package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/rueidis"
)

const (
	defaultBlock     = time.Second
	defaultReadCount = 10
	retryDelay       = time.Second
)

// Handler reacts to one notification. A returned error leaves the entry pending.
type Handler func(ctx context.Context, n *Notification) error

// SubscriberOptions configures a StreamSubscriber.
type SubscriberOptions struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long one read waits for new entries.
	Block time.Duration
	Count int64
}

// StreamSubscriber reads notifications written by StreamPublisher through a consumer group.
type StreamSubscriber struct {
	client  rueidis.Client
	opts    SubscriberOptions
	handler Handler
}

// NewStreamSubscriber creates a subscriber; zero options fall back to DefaultStream, a one second block and ten entries per read.
func NewStreamSubscriber(client rueidis.Client, opts SubscriberOptions, handler Handler) *StreamSubscriber {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Block <= 0 {
		opts.Block = defaultBlock
	}
	if opts.Count <= 0 {
		opts.Count = defaultReadCount
	}

	return &StreamSubscriber{client: client, opts: opts, handler: handler}
}

// EnsureGroup creates the consumer group and the stream if needed.
func (s *StreamSubscriber) EnsureGroup(ctx context.Context) {
	cmd := s.client.B().XgroupCreate().Key(s.opts.Stream).Group(s.opts.Group).Id("0").Mkstream().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		slog.Info("consumer group creation result (may already exist)",
			slog.String("group", s.opts.Group),
			slog.String("error", err.Error()),
		)
	}
}

// Poll reads one batch of new entries, hands each to the handler and
// acknowledges the ones it accepted. It returns the number acknowledged.
func (s *StreamSubscriber) Poll(ctx context.Context) (int, error) {
	cmd := s.client.B().Xreadgroup().Group(s.opts.Group, s.opts.Consumer).
		Count(s.opts.Count).
		Block(s.opts.Block.Milliseconds()).
		Streams().
		Key(s.opts.Stream).
		Id(">").
		Build()

	streams, err := s.client.Do(ctx, cmd).AsXRead()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil
		}

		return 0, err
	}

	acked := 0
	for _, entry := range streams[s.opts.Stream] {
		if err := s.handle(ctx, entry); err != nil {
			slog.Error("failed to process message",
				slog.String("message_id", entry.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := s.ack(ctx, entry.ID); err != nil {
			slog.Error("failed to ACK message",
				slog.String("message_id", entry.ID),
				slog.String("error", err.Error()),
			)

			continue
		}
		acked++
	}

	return acked, nil
}

// Run polls until ctx is cancelled.
func (s *StreamSubscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("subscriber stopped", slog.String("consumer", s.opts.Consumer))
			return
		default:
		}

		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Error("error consuming messages", slog.String("error", err.Error()))
			time.Sleep(retryDelay)
		}
	}
}

func (s *StreamSubscriber) handle(ctx context.Context, entry rueidis.XRangeEntry) error {
	slog.Debug("received message",
		slog.String("message_id", entry.ID),
		slog.String("name", entry.FieldValues["name"]),
	)

	n, err := FromStreamEntry(entry)
	if err != nil {
		return err
	}

	return s.handler(ctx, n)
}

func (s *StreamSubscriber) ack(ctx context.Context, id string) error {
	return s.client.Do(ctx, s.client.B().Xack().Key(s.opts.Stream).Group(s.opts.Group).Id(id).Build()).Error()
}
