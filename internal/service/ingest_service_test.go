package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/stats"
)

func webhookBody(trackerID int64, pairs ...string) []byte {
	body := "["
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"tracker_id":%d,"email":%q,"event":%q,"ip":"10.0.0.1","useragent":"test","timestamp":1709294400}`,
			trackerID, pairs[i], pairs[i+1])
	}

	return []byte(body + "]")
}

func TestIngestService_EndToEndScenario(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()

	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com", "b@example.com")

	report, err := f.ingest.ProcessPayload(ctx, webhookBody(receipt.TrackerID,
		"a@example.com", "delivered",
		"a@example.com", "open",
		"a@example.com", "open",
		"b@example.com", "bounce",
	))
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Received: 4, Ingested: 4}, report)

	collection, err := NewStatsServiceImpl(f.store.Sends, time.UTC).Query(ctx, stats.Query{Window: stats.Past24Hours})
	require.NoError(t, err)

	assert.Equal(t, 2, collection.Total())
	assert.Equal(t, map[string]int{"delivered": 1, "open": 2, "bounce": 1}, collection.Events())
	assert.Equal(t, map[string]int{"a@example.com": 1, "b@example.com": 1}, collection.Emails())

	assert.Equal(t, []string{
		notify.NameEvent, "mail.delivered",
		notify.NameEvent, "mail.open",
		notify.NameEvent, "mail.open",
		notify.NameEvent, "mail.bounce",
	}, f.recorder.Names())
}

func TestIngestService_UncorrelatedEventsAreSkipped(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()

	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	events := []*model.RawEvent{
		{TrackerID: receipt.TrackerID + 100, Email: "a@example.com", Kind: "open"},
		{TrackerID: receipt.TrackerID, Email: "stranger@example.com", Kind: "open"},
		{TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "click"},
		nil,
	}

	report := f.ingest.ProcessBatch(ctx, events)
	assert.Equal(t, BatchReport{Received: 4, Ingested: 1, Skipped: 3}, report)

	stored, err := f.store.Events.ListBySendRecord(ctx, receipt.Records[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.StatusClick, stored[0].Status)

	assert.Equal(t, []string{notify.NameEvent, "mail.click"}, f.recorder.Names())
}

func TestIngestService_MalformedElementsAreDropped(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	body := fmt.Sprintf(`[
		{"email":"a@example.com","event":"open"},
		{"tracker_id":"abc","email":"a@example.com","event":"open"},
		{"tracker_id":"%d","email":"a@example.com","event":"open"},
		"not an object"
	]`, receipt.TrackerID)

	report, err := f.ingest.ProcessPayload(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, BatchReport{Received: 4, Ingested: 1, Skipped: 3}, report)

	_, err = f.ingest.ProcessPayload(context.Background(), []byte(`{"event":"open"}`))
	assert.True(t, errors.Is(err, model.ErrMalformedEvent))
}

func TestIngestService_StripsDenyKeys(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	_, err := f.ingest.ProcessPayload(ctx, webhookBody(receipt.TrackerID, "a@example.com", "open"))
	require.NoError(t, err)

	latest, err := f.store.Events.Latest(ctx, receipt.Records[0].ID)
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.NotContains(t, latest.Payload, "ip")
	assert.NotContains(t, latest.Payload, "email")
	assert.Equal(t, "test", latest.Payload["useragent"])
	assert.Equal(t, "open", latest.Payload["event"])

	// Subscribers still receive the raw callback and its send.
	notifications := f.recorder.Notifications()
	require.Len(t, notifications, 2)
	assert.Equal(t, "10.0.0.1", notifications[0].Raw["ip"])
	assert.Equal(t, receipt.Records[0].ID, notifications[0].SendRecord.ID)
	assert.Equal(t, latest.ID, notifications[0].Event.ID)
	assert.Equal(t, notify.ChannelFor(receipt.Records[0].ID), notifications[1].Channel)
}

func TestIngestService_UnrecognizedKindGetsGenericNotificationOnly(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	report := f.ingest.ProcessBatch(context.Background(), []*model.RawEvent{
		{TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "machine_opened"},
	})

	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, []string{notify.NameEvent}, f.recorder.Names())
}

func TestIngestService_AliasedKindsAreStoredCanonically(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	report, err := f.ingest.ProcessPayload(ctx, webhookBody(receipt.TrackerID,
		"a@example.com", "spam-report",
		"a@example.com", "group-unsubscribe",
	))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ingested)

	assert.Equal(t, []string{
		notify.NameEvent, "mail.spamreport",
		notify.NameEvent, "mail.group_unsubscribe",
	}, f.recorder.Names())

	stored, err := f.store.Events.ListBySendRecord(ctx, receipt.Records[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.StatusSpamReport, stored[0].Status)
	assert.Equal(t, model.StatusGroupUnsubscribe, stored[1].Status)
}

func TestIngestService_DuplicatesAreStoredByDefault(t *testing.T) {
	f := newFixture(t, IngestConfig{})
	ctx := context.Background()
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	event := &model.RawEvent{
		TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "open",
		Fields: map[string]any{"sg_event_id": "evt-1"},
	}
	f.ingest.ProcessBatch(ctx, []*model.RawEvent{event, event})

	stored, err := f.store.Events.ListBySendRecord(ctx, receipt.Records[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngestService_DeduplicatesByProviderEventID(t *testing.T) {
	client, _ := setupTestRedis(t)
	f := newFixture(t, IngestConfig{Deduplicator: NewRedisDeduplicator(client, time.Hour)})
	ctx := context.Background()
	receipt := f.recordSend(t, model.SendMeta{MessageClass: "WelcomeMail"}, "a@example.com")

	event := func(id string) *model.RawEvent {
		return &model.RawEvent{
			TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "open",
			Fields: map[string]any{"sg_event_id": id},
		}
	}

	report := f.ingest.ProcessBatch(ctx, []*model.RawEvent{event("evt-1"), event("evt-1"), event("evt-2")})
	assert.Equal(t, BatchReport{Received: 3, Ingested: 2, Skipped: 1}, report)
}

func TestIngestService_DirectModeKeepsEventWhenPublishFails(t *testing.T) {
	store := repository.NewInMemoryStore()
	tracker := NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, TrackerConfig{Tracking: defaultTracking()})
	ingest := NewIngestServiceImpl(store.Sends, store.Events, store.Tx, failingPublisher{}, IngestConfig{})
	ctx := context.Background()

	receipt, err := tracker.RecordSend(ctx, model.SendMeta{MessageClass: "WelcomeMail"},
		[]model.RecipientInfo{{Email: "a@example.com", DistributionType: model.DistributionTo}})
	require.NoError(t, err)

	report := ingest.ProcessBatch(ctx, []*model.RawEvent{{TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "open"}})
	assert.Equal(t, 1, report.Ingested)

	has, err := store.Events.HasStatus(ctx, receipt.Records[0].ID, model.StatusOpen)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIngestService_TransactionalModeRollsBackWhenPublishFails(t *testing.T) {
	store := repository.NewInMemoryStore()
	tracker := NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, TrackerConfig{Tracking: defaultTracking()})
	ingest := NewIngestServiceImpl(store.Sends, store.Events, store.Tx, failingPublisher{}, IngestConfig{Transactional: true})
	ctx := context.Background()

	receipt, err := tracker.RecordSend(ctx, model.SendMeta{MessageClass: "WelcomeMail"},
		[]model.RecipientInfo{{Email: "a@example.com", DistributionType: model.DistributionTo}})
	require.NoError(t, err)

	report := ingest.ProcessBatch(ctx, []*model.RawEvent{{TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "open"}})
	assert.Equal(t, BatchReport{Received: 1, Failed: 1}, report)

	has, err := store.Events.HasStatus(ctx, receipt.Records[0].ID, model.StatusOpen)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestIngestService_OutboxModeStoresNotificationsWithEvent(t *testing.T) {
	store := repository.NewInMemoryStore()
	tracker := NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, TrackerConfig{Tracking: defaultTracking()})
	ingest := NewIngestServiceImpl(store.Sends, store.Events, store.Tx, notify.NewOutboxPublisher(store.Outbox), IngestConfig{Transactional: true})
	ctx := context.Background()

	receipt, err := tracker.RecordSend(ctx, model.SendMeta{MessageClass: "WelcomeMail"},
		[]model.RecipientInfo{{Email: "a@example.com", DistributionType: model.DistributionTo}})
	require.NoError(t, err)

	ingest.ProcessBatch(ctx, []*model.RawEvent{{TrackerID: receipt.TrackerID, Email: "a@example.com", Kind: "delivered"}})

	pending, err := store.Outbox.GetUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, notify.NameEvent, pending[0].EventType)
	assert.Equal(t, "mail.delivered", pending[1].EventType)
}

// vanishingSends correlates every event to a send that no longer exists.
type vanishingSends struct {
	repository.SendRepository
}

func (vanishingSends) FindByCorrelation(_ context.Context, trackerID int64, email string) (*model.SendRecord, error) {
	return &model.SendRecord{ID: 999, TrackerID: trackerID, Email: email}, nil
}

func TestIngestService_SendPrunedBeforeInsertIsSkipped(t *testing.T) {
	store := repository.NewInMemoryStore()
	recorder := &notify.Recorder{}
	ingest := NewIngestServiceImpl(vanishingSends{store.Sends}, store.Events, store.Tx, recorder, IngestConfig{})

	report := ingest.ProcessBatch(context.Background(), []*model.RawEvent{{TrackerID: 1, Email: "a@example.com", Kind: "open"}})

	assert.Equal(t, BatchReport{Received: 1, Skipped: 1}, report)
	assert.Empty(t, recorder.Names())
}
