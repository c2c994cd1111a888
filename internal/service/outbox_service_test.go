package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
)

func TestOutboxService_RelaysToStream(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := repository.NewInMemoryStore()
	ctx := context.Background()

	send := &model.SendRecord{ID: 3, TrackerID: 5, Email: "a@example.com", MessageClass: "WelcomeMail", DistributionType: model.DistributionTo}
	event := &model.EventRecord{ID: 9, SendRecordID: 3, Status: model.StatusOpen}

	outbox := notify.NewOutboxPublisher(store.Outbox)
	for _, n := range notify.ForEvent(send, event, nil) {
		require.NoError(t, outbox.Publish(ctx, n))
	}

	stream := notify.NewStreamPublisher(client, "mail:test")
	svc := NewOutboxServiceImpl(store.Outbox, stream)

	require.NoError(t, svc.ProcessUnpublishedEvents(ctx, 10))

	pending, err := store.Outbox.GetUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, err := client.Do(ctx, client.B().Xrange().Key("mail:test").Start("-").End("+").Build()).AsXRange()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, notify.NameEvent, entries[0].FieldValues["name"])
	assert.Equal(t, "mail.open", entries[1].FieldValues["name"])
	assert.Equal(t, "mail.3", entries[1].FieldValues["channel"])
}

func TestOutboxService_KeepsEventsWhenPublishFails(t *testing.T) {
	store := repository.NewInMemoryStore()
	ctx := context.Background()

	outbox := notify.NewOutboxPublisher(store.Outbox)
	require.NoError(t, outbox.Publish(ctx, notify.New(notify.NameEvent, &model.SendRecord{ID: 1}, nil, nil)))

	require.NoError(t, NewOutboxServiceImpl(store.Outbox, failingPublisher{}).ProcessUnpublishedEvents(ctx, 10))

	pending, err := store.Outbox.GetUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOutboxService_DiscardsUndecodableEvents(t *testing.T) {
	store := repository.NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Outbox.CreateEvent(ctx, &model.CreateOutboxEventParams{
		AggregateID: "mail.1", EventType: notify.NameEvent, Payload: []byte("not json"),
	})
	require.NoError(t, err)

	recorder := &notify.Recorder{}
	require.NoError(t, NewOutboxServiceImpl(store.Outbox, recorder).ProcessUnpublishedEvents(ctx, 10))

	pending, err := store.Outbox.GetUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, recorder.Names())
}
