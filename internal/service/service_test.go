package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func defaultTracking() config.TrackingOptions {
	return config.TrackingOptions{DenyKeys: []string{"ip", "email"}, TrackTo: true, TrackCC: true}
}

type fixture struct {
	store    *repository.Store
	recorder *notify.Recorder
	tracker  *TrackerServiceImpl
	ingest   *IngestServiceImpl
}

func newFixture(t *testing.T, ingestCfg IngestConfig) *fixture {
	t.Helper()

	store := repository.NewInMemoryStore()
	recorder := &notify.Recorder{}

	kinds := model.NewKindRegistry()
	kinds.Register("order", func(_ context.Context, id string) (any, error) { return id, nil })

	if ingestCfg.DenyKeys == nil {
		ingestCfg.DenyKeys = defaultTracking().DenyKeys
	}

	return &fixture{
		store:    store,
		recorder: recorder,
		tracker: NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, TrackerConfig{
			Tracking: defaultTracking(),
			Kinds:    kinds,
		}),
		ingest: NewIngestServiceImpl(store.Sends, store.Events, store.Tx, recorder, ingestCfg),
	}
}

func (f *fixture) recordSend(t *testing.T, meta model.SendMeta, emails ...string) *SendReceipt {
	t.Helper()

	recipients := make([]model.RecipientInfo, 0, len(emails))
	for _, email := range emails {
		recipients = append(recipients, model.RecipientInfo{Email: email, DistributionType: model.DistributionTo})
	}

	receipt, err := f.tracker.RecordSend(context.Background(), meta, recipients)
	require.NoError(t, err)

	return receipt
}

// seedSend inserts a send directly with a fixed creation time.
func seedSend(t *testing.T, repo repository.SendRepository, trackerID int64, email string, createdAt time.Time, category *string) *model.SendRecord {
	t.Helper()

	rec, err := repo.Create(context.Background(), &model.CreateSendRecordParams{
		TrackerID:        trackerID,
		Email:            email,
		DistributionType: model.DistributionTo,
		Category:         category,
		MessageClass:     "WelcomeMail",
		CreatedAt:        createdAt,
	})
	require.NoError(t, err)

	return rec
}

func setupTestRedis(t *testing.T) (rueidis.Client, *miniredis.Miniredis) {
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

	return client, mr
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *notify.Notification) error {
	return errors.New("broker down")
}
