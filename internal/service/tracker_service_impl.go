package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/smtpapi"
)

// SendReceipt is what the mail-sending path needs to dispatch a tracked message.
type SendReceipt struct {
	TrackerID int64
	Records   []*model.SendRecord
	// Header is the X-SMTPAPI value carrying the tracker id.
	Header string
}

// TrackerConfig configures a TrackerServiceImpl.
type TrackerConfig struct {
	Tracking config.TrackingOptions
	// Kinds lists the entity kinds a send may be linked to.
	Kinds *model.KindRegistry
	// Cleaner runs before every RecordSend when set.
	Cleaner RetentionService
}

// TrackerServiceImpl implements TrackerService.
type TrackerServiceImpl struct {
	sendRepo       repository.SendRepository
	trackerIDs     repository.TrackerIDAllocator
	transactionMgr repository.TransactionManager
	cfg            TrackerConfig
}

// NewTrackerServiceImpl creates a new TrackerService implementation.
func NewTrackerServiceImpl(
	sendRepo repository.SendRepository,
	trackerIDs repository.TrackerIDAllocator,
	transactionMgr repository.TransactionManager,
	cfg TrackerConfig,
) *TrackerServiceImpl {
	return &TrackerServiceImpl{
		sendRepo:       sendRepo,
		trackerIDs:     trackerIDs,
		transactionMgr: transactionMgr,
		cfg:            cfg,
	}
}

// NewTrackerServiceForStore builds a TrackerService over store's repositories.
// With RETENTION_ENABLED and RETENTION_ON_SEND the configured retention policy
// runs before every RecordSend.
func NewTrackerServiceForStore(
	store *repository.Store, cfg *config.Config, kinds *model.KindRegistry,
) (*TrackerServiceImpl, error) {
	trackerCfg := TrackerConfig{Tracking: cfg.Tracking, Kinds: kinds}

	if cfg.Retention.Enabled && cfg.Retention.OnSend {
		cleaner, err := NewRetentionServiceImpl(store.Sends, cfg.Retention)
		if err != nil {
			return nil, err
		}
		trackerCfg.Cleaner = cleaner
	}

	return NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, trackerCfg), nil
}

// BeginSend allocates a fresh tracker id.
func (s *TrackerServiceImpl) BeginSend(ctx context.Context) (int64, error) {
	id, err := s.trackerIDs.NextTrackerID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin send: %w", err)
	}

	return id, nil
}

// RecordRecipient stores one recipient of trackerID.
func (s *TrackerServiceImpl) RecordRecipient(
	ctx context.Context, trackerID int64, recipient model.RecipientInfo, meta model.SendMeta,
) (*model.SendRecord, error) {
	if err := s.validateMeta(meta); err != nil {
		return nil, err
	}

	return s.recordRecipient(ctx, trackerID, recipient, meta)
}

// RecordSend allocates a tracker id and stores every tracked recipient in one transaction.
// Recipients repeated with the same address are stored once.
func (s *TrackerServiceImpl) RecordSend(
	ctx context.Context, meta model.SendMeta, recipients []model.RecipientInfo,
) (*SendReceipt, error) {
	if len(recipients) == 0 {
		return nil, model.ErrNoRecipients
	}

	if err := s.validateMeta(meta); err != nil {
		return nil, err
	}

	if s.cfg.Cleaner != nil {
		if _, err := s.cfg.Cleaner.Prune(ctx); err != nil {
			slog.Warn("on-send retention failed", slog.String("error", err.Error()))
		}
	}

	receipt := &SendReceipt{}

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		trackerID, err := s.BeginSend(ctx)
		if err != nil {
			return err
		}
		receipt.TrackerID = trackerID

		seen := make(map[string]bool, len(recipients))
		for _, recipient := range recipients {
			if seen[recipient.Email] {
				continue
			}

			record, err := s.recordRecipient(ctx, trackerID, recipient, meta)
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}

			seen[recipient.Email] = true
			receipt.Records = append(receipt.Records, record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	category := ""
	if meta.Category != nil {
		category = *meta.Category
	}

	receipt.Header, err = smtpapi.Header(receipt.TrackerID, category)
	if err != nil {
		return nil, err
	}

	slog.Info("send recorded",
		slog.Int64("tracker_id", receipt.TrackerID),
		slog.String("message_class", meta.MessageClass),
		slog.Int("recipients", len(receipt.Records)),
	)

	return receipt, nil
}

func (s *TrackerServiceImpl) recordRecipient(
	ctx context.Context, trackerID int64, recipient model.RecipientInfo, meta model.SendMeta,
) (*model.SendRecord, error) {
	distribution, err := model.ParseDistributionType(string(recipient.DistributionType))
	if err != nil {
		return nil, err
	}

	if !s.cfg.Tracking.Tracks(string(distribution)) {
		slog.Debug("recipient not tracked",
			slog.Int64("tracker_id", trackerID),
			slog.String("distribution_type", string(distribution)),
		)

		return nil, nil
	}

	if recipient.Recipient != nil {
		if err := recipient.Recipient.Validate(); err != nil {
			return nil, err
		}
	}

	record, err := s.sendRepo.Create(ctx, &model.CreateSendRecordParams{
		TrackerID:        trackerID,
		Email:            recipient.Email,
		Recipient:        recipient.Recipient,
		LinkedTo:         meta.LinkedTo,
		DistributionType: distribution,
		Category:         meta.Category,
		Queue:            meta.Queue,
		MessageClass:     meta.MessageClass,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record recipient %s: %w", logger.RedactEmail(recipient.Email), err)
	}

	return record, nil
}

// validateMeta rejects links to anything but a registered entity.
func (s *TrackerServiceImpl) validateMeta(meta model.SendMeta) error {
	if meta.LinkedTo == nil {
		return nil
	}

	if err := meta.LinkedTo.Validate(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidLink, err)
	}

	if !s.cfg.Kinds.Known(meta.LinkedTo.Kind) {
		return fmt.Errorf("%w: unknown kind %q", model.ErrInvalidLink, meta.LinkedTo.Kind)
	}

	return nil
}
