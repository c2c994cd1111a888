package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jnst/mail-tracker/internal/metrics"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/stats"
)

// StatsServiceImpl implements StatsService over a SendRepository.
type StatsServiceImpl struct {
	sendRepo repository.SendRepository
	loc      *time.Location
	now      func() time.Time
}

// NewStatsServiceImpl creates a stats service whose windows and buckets follow loc.
func NewStatsServiceImpl(sendRepo repository.SendRepository, loc *time.Location) *StatsServiceImpl {
	if loc == nil {
		loc = time.UTC
	}

	return &StatsServiceImpl{sendRepo: sendRepo, loc: loc, now: time.Now}
}

// WithClock replaces the evaluation clock.
func (s *StatsServiceImpl) WithClock(now func() time.Time) *StatsServiceImpl {
	s.now = now
	return s
}

// Query resolves q, loads matching sends with their events and aggregates them.
func (s *StatsServiceImpl) Query(ctx context.Context, q stats.Query) (*model.StatsResultCollection, error) {
	start := time.Now()

	period, err := q.Range(s.now().In(s.loc))
	if err != nil {
		return nil, err
	}

	filters, err := q.FilterMap()
	if err != nil {
		return nil, err
	}

	sends, err := s.sendRepo.FindWithEvents(ctx, &repository.SendCriteria{
		From:    period.From,
		To:      period.To,
		Filters: filters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sends: %w", err)
	}

	result := stats.Aggregate(sends, q.Granularity, s.loc)
	metrics.RecordStatsQuery(q.Granularity.String(), time.Since(start))

	return result, nil
}
