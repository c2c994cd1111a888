package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/model"
)

const testGroup = "mail-subscribers"

func setupStreamClient(t *testing.T) rueidis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client
}

func pendingCount(t *testing.T, client rueidis.Client) int64 {
	t.Helper()

	values, err := client.Do(context.Background(),
		client.B().Xpending().Key(DefaultStream).Group(testGroup).Build()).ToArray()
	require.NoError(t, err)
	require.NotEmpty(t, values)

	count, err := values[0].AsInt64()
	require.NoError(t, err)

	return count
}

func TestStreamSubscriber_Poll(t *testing.T) {
	ctx := context.Background()
	client := setupStreamClient(t)

	var got []string
	subscriber := NewStreamSubscriber(client, SubscriberOptions{Group: testGroup, Consumer: "c1"},
		func(_ context.Context, n *Notification) error {
			got = append(got, n.Name)
			return nil
		})
	subscriber.EnsureGroup(ctx)
	subscriber.EnsureGroup(ctx)

	publisher := NewStreamPublisher(client, "")
	for _, n := range ForEvent(testSend(), testEvent(model.StatusOpen), nil) {
		require.NoError(t, publisher.Publish(ctx, n))
	}

	acked, err := subscriber.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acked)
	assert.Equal(t, []string{NameEvent, "mail.open"}, got)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestStreamSubscriber_FailedEntriesStayPending(t *testing.T) {
	ctx := context.Background()
	client := setupStreamClient(t)

	subscriber := NewStreamSubscriber(client, SubscriberOptions{Group: testGroup, Consumer: "c1"},
		func(_ context.Context, n *Notification) error {
			if n.Name == NameEvent {
				return errors.New("handler failed")
			}
			return nil
		})
	subscriber.EnsureGroup(ctx)

	publisher := NewStreamPublisher(client, "")
	for _, n := range ForEvent(testSend(), testEvent(model.StatusBounce), nil) {
		require.NoError(t, publisher.Publish(ctx, n))
	}
	err := client.Do(ctx, client.B().Xadd().Key(DefaultStream).Id("*").
		FieldValue().FieldValue("name", NameEvent).Build()).Error()
	require.NoError(t, err)

	acked, err := subscriber.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Equal(t, int64(2), pendingCount(t, client))
}

func TestStreamSubscriber_RunStopsOnCancel(t *testing.T) {
	client := setupStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got int
	)
	subscriber := NewStreamSubscriber(client,
		SubscriberOptions{Group: testGroup, Consumer: "c1", Block: 50 * time.Millisecond},
		func(context.Context, *Notification) error {
			mu.Lock()
			got++
			mu.Unlock()
			return nil
		})
	subscriber.EnsureGroup(ctx)

	require.NoError(t, NewStreamPublisher(client, "").Publish(ctx, New(NameEvent, testSend(), nil, nil)))

	done := make(chan struct{})
	go func() {
		subscriber.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
