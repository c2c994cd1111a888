package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/metrics"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/repository"
)

// RetentionServiceImpl implements RetentionService.
type RetentionServiceImpl struct {
	sendRepo repository.SendRepository
	opts     config.RetentionOptions
	now      func() time.Time
}

// NewRetentionServiceImpl creates a cleaner for opts, rejecting invalid options.
func NewRetentionServiceImpl(sendRepo repository.SendRepository, opts config.RetentionOptions) (*RetentionServiceImpl, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidRetention, err)
	}

	return &RetentionServiceImpl{sendRepo: sendRepo, opts: opts, now: time.Now}, nil
}

// WithClock replaces the evaluation clock.
func (s *RetentionServiceImpl) WithClock(now func() time.Time) *RetentionServiceImpl {
	s.now = now
	return s
}

// Prune deletes sends outside the policy. Events go with their sends.
func (s *RetentionServiceImpl) Prune(ctx context.Context) (int64, error) {
	var (
		removed int64
		err     error
	)

	switch s.opts.Policy {
	case config.PolicyLimit:
		removed, err = s.sendRepo.DeleteBeyondLimit(ctx, s.opts.Limit, s.opts.BatchSize)
	case config.PolicyExpiration:
		cutoff := ExpirationCutoff(s.now(), s.opts.Expiration, s.opts.Unit)
		removed, err = s.sendRepo.DeleteCreatedBefore(ctx, cutoff, s.opts.BatchSize)
	default:
		return 0, fmt.Errorf("%w: policy %q", model.ErrInvalidRetention, s.opts.Policy)
	}
	if err != nil {
		return removed, fmt.Errorf("failed to prune sends: %w", err)
	}

	metrics.RecordRetention(s.opts.Policy, removed)
	slog.Info("retention pruned sends",
		slog.String("policy", s.opts.Policy),
		slog.Int64("removed", removed),
	)

	return removed, nil
}

// ExpirationCutoff returns now minus amount units. Months are calendar months.
func ExpirationCutoff(now time.Time, amount int, unit string) time.Time {
	switch unit {
	case "months":
		return now.AddDate(0, -amount, 0)
	case "hours":
		return now.Add(-time.Duration(amount) * time.Hour)
	case "minutes":
		return now.Add(-time.Duration(amount) * time.Minute)
	default:
		return now.AddDate(0, 0, -amount)
	}
}
