package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/metrics"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
)

// BatchReport summarizes one processed webhook batch.
type BatchReport struct {
	Received int `json:"received"`
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// IngestConfig configures an IngestServiceImpl.
type IngestConfig struct {
	// DenyKeys are removed from provider payloads before they are stored.
	DenyKeys []string
	// Transactional persists the event and publishes its notifications in one
	// transaction. Use it with a publisher that writes to the same store.
	Transactional bool
	// Deduplicator drops redeliveries by provider event id. Nil disables it.
	Deduplicator Deduplicator
}

// IngestServiceImpl implements IngestService.
type IngestServiceImpl struct {
	sendRepo       repository.SendRepository
	eventRepo      repository.EventRepository
	transactionMgr repository.TransactionManager
	publisher      notify.Publisher
	cfg            IngestConfig
	log            *slog.Logger
}

// NewIngestServiceImpl creates a new IngestService implementation.
func NewIngestServiceImpl(
	sendRepo repository.SendRepository,
	eventRepo repository.EventRepository,
	transactionMgr repository.TransactionManager,
	publisher notify.Publisher,
	cfg IngestConfig,
) *IngestServiceImpl {
	return &IngestServiceImpl{
		sendRepo:       sendRepo,
		eventRepo:      eventRepo,
		transactionMgr: transactionMgr,
		publisher:      publisher,
		cfg:            cfg,
		log:            slog.Default(),
	}
}

// WithLogger replaces the logger.
func (s *IngestServiceImpl) WithLogger(l *slog.Logger) *IngestServiceImpl {
	s.log = l
	return s
}

// ProcessPayload decodes a webhook body and processes its elements.
func (s *IngestServiceImpl) ProcessPayload(ctx context.Context, body []byte) (BatchReport, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return BatchReport{}, fmt.Errorf("%w: body must be a JSON array: %v", model.ErrMalformedEvent, err)
	}

	report := BatchReport{Received: len(elements)}
	events := make([]*model.RawEvent, 0, len(elements))

	for i, element := range elements {
		event, err := model.ParseRawEvent(element)
		if err != nil {
			s.log.Warn("dropping malformed webhook event",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			metrics.RecordSkipped("", metrics.ReasonMalformed)
			report.Skipped++

			continue
		}
		events = append(events, event)
	}

	batch := s.ProcessBatch(ctx, events)
	report.Ingested += batch.Ingested
	report.Skipped += batch.Skipped
	report.Failed += batch.Failed

	return report, nil
}

// ProcessBatch correlates, stores and announces each event in input order.
func (s *IngestServiceImpl) ProcessBatch(ctx context.Context, events []*model.RawEvent) BatchReport {
	report := BatchReport{Received: len(events)}

	for _, event := range events {
		switch err := s.processEvent(ctx, event); {
		case err == nil:
			report.Ingested++
		case errors.Is(err, errSkipped):
			report.Skipped++
		default:
			report.Failed++
		}
	}

	s.log.Debug("webhook batch processed",
		slog.Int("received", report.Received),
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)

	return report
}

var errSkipped = errors.New("event skipped")

func (s *IngestServiceImpl) processEvent(ctx context.Context, raw *model.RawEvent) error {
	if raw == nil {
		metrics.RecordSkipped("", metrics.ReasonMalformed)
		return errSkipped
	}

	attrs := []any{
		slog.Int64("tracker_id", raw.TrackerID),
		logger.Email(raw.Email),
		slog.String("event", raw.Kind),
	}

	send, err := s.sendRepo.FindByCorrelation(ctx, raw.TrackerID, raw.Email)
	if err != nil {
		if errors.Is(err, model.ErrSendRecordNotFound) {
			s.log.Debug("no send matches webhook event", attrs...)
			metrics.RecordSkipped(string(raw.Status()), metrics.ReasonNotFound)

			return errSkipped
		}

		s.log.Error("failed to look up send", append(attrs, slog.String("error", err.Error()))...)
		metrics.RecordFailed(string(raw.Status()), "lookup")

		return err
	}

	providerID := raw.ProviderEventID()
	if s.cfg.Deduplicator != nil && providerID != "" {
		first, err := s.cfg.Deduplicator.FirstDelivery(ctx, providerID)
		if err != nil {
			// Store the event anyway when the dedupe store is unreachable.
			s.log.Warn("dedupe check failed", append(attrs, slog.String("error", err.Error()))...)
		} else if !first {
			s.log.Debug("dropping redelivered webhook event", append(attrs, slog.String("sg_event_id", providerID))...)
			metrics.RecordSkipped(string(raw.Status()), metrics.ReasonDuplicate)

			return errSkipped
		}
	}

	if err := s.store(ctx, send, raw); err != nil {
		if s.cfg.Deduplicator != nil && providerID != "" {
			if ferr := s.cfg.Deduplicator.Forget(ctx, providerID); ferr != nil {
				s.log.Warn("failed to release dedupe key", slog.String("error", ferr.Error()))
			}
		}

		if errors.Is(err, model.ErrSendRecordNotFound) {
			// Pruned between lookup and insert.
			s.log.Debug("send removed before event could be stored", attrs...)
			metrics.RecordSkipped(string(raw.Status()), metrics.ReasonNotFound)

			return errSkipped
		}

		return err
	}

	metrics.RecordIngested(string(raw.Status()))

	return nil
}

func (s *IngestServiceImpl) store(ctx context.Context, send *model.SendRecord, raw *model.RawEvent) error {
	params := &model.CreateEventRecordParams{
		SendRecordID: send.ID,
		Status:       raw.Status(),
		Payload:      s.cleanPayload(raw.Fields),
	}

	if s.cfg.Transactional {
		err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
			event, err := s.persist(ctx, params, raw)
			if err != nil {
				return err
			}

			return s.announce(ctx, send, event, raw)
		})
		if err != nil && !errors.Is(err, model.ErrSendRecordNotFound) {
			metrics.RecordFailed(string(raw.Status()), "persist")
		}

		return err
	}

	event, err := s.persist(ctx, params, raw)
	if err != nil {
		if !errors.Is(err, model.ErrSendRecordNotFound) {
			metrics.RecordFailed(string(raw.Status()), "persist")
		}
		return err
	}

	// The event is stored; a failed notification is reported but not undone.
	if err := s.announce(ctx, send, event, raw); err != nil {
		metrics.RecordFailed(string(raw.Status()), "notify")
	}

	return nil
}

func (s *IngestServiceImpl) persist(ctx context.Context, params *model.CreateEventRecordParams, raw *model.RawEvent) (*model.EventRecord, error) {
	event, err := s.eventRepo.Create(ctx, params)
	if err != nil {
		if !errors.Is(err, model.ErrSendRecordNotFound) {
			s.log.Error("failed to store event",
				slog.Int64("send_record_id", params.SendRecordID),
				slog.String("event", raw.Kind),
				slog.String("error", err.Error()),
			)
		}

		return nil, err
	}

	return event, nil
}

func (s *IngestServiceImpl) announce(ctx context.Context, send *model.SendRecord, event *model.EventRecord, raw *model.RawEvent) error {
	var errs []error

	for _, n := range notify.ForEvent(send, event, raw.Fields) {
		if err := s.publisher.Publish(ctx, n); err != nil {
			s.log.Error("failed to publish notification",
				slog.String("name", n.Name),
				slog.Int64("event_id", event.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *IngestServiceImpl) cleanPayload(fields map[string]any) map[string]any {
	payload := maps.Clone(fields)
	if payload == nil {
		payload = make(map[string]any)
	}

	for _, key := range s.cfg.DenyKeys {
		delete(payload, key)
	}

	return payload
}
