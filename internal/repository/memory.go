package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// MemoryStore keeps the Send Ledger, Event Store and outbox in process memory.
// Transactions roll back the writes made through their context; they do not isolate readers.
type MemoryStore struct {
	mu       sync.RWMutex
	sends    map[int64]*model.SendRecord
	events   map[int64][]*model.EventRecord
	outbox   []*model.OutboxEvent
	lastID   int64
	lastEvID int64
	lastObID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sends:  make(map[int64]*model.SendRecord),
		events: make(map[int64][]*model.EventRecord),
	}
}

// Sends returns the Send Ledger view of the store.
func (s *MemoryStore) Sends() SendRepository { return &memorySends{s} }

// Events returns the Event Store view of the store.
func (s *MemoryStore) Events() EventRepository { return &memoryEvents{s} }

// Outbox returns the outbox view of the store.
func (s *MemoryStore) Outbox() OutboxRepository { return &memoryOutbox{s} }

type memTxKey struct{}

type memTx struct {
	undo []func()
}

// WithTransaction runs fn and reverts its writes if it fails.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &memTx{}

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()

		return err
	}

	return nil
}

// onRollback registers undo for the transaction in ctx. Callers hold s.mu.
func onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// sortedSends returns the sends ordered by creation time then id. Callers hold s.mu.
func (s *MemoryStore) sortedSends() []*model.SendRecord {
	out := make([]*model.SendRecord, 0, len(s.sends))
	for _, rec := range s.sends {
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// deleteSend removes a send and cascades to its events. Callers hold s.mu.
func (s *MemoryStore) deleteSend(id int64) {
	delete(s.sends, id)
	delete(s.events, id)
}

type memorySends struct{ s *MemoryStore }

func (m *memorySends) Create(ctx context.Context, params *model.CreateSendRecordParams) (*model.SendRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.lastID++
	record := &model.SendRecord{
		ID:               m.s.lastID,
		TrackerID:        params.TrackerID,
		Email:            params.Email,
		Recipient:        params.Recipient,
		LinkedTo:         params.LinkedTo,
		DistributionType: params.DistributionType,
		Category:         params.Category,
		Queue:            params.Queue,
		MessageClass:     params.MessageClass,
		CreatedAt:        createdAt,
	}
	m.s.sends[record.ID] = record

	onRollback(ctx, func() { m.s.deleteSend(record.ID) })

	clone := *record

	return &clone, nil
}

func (m *memorySends) FindByCorrelation(_ context.Context, trackerID int64, email string) (*model.SendRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var found *model.SendRecord
	for _, rec := range m.s.sends {
		if rec.TrackerID == trackerID && rec.Email == email && (found == nil || rec.ID < found.ID) {
			found = rec
		}
	}

	if found == nil {
		return nil, model.ErrSendRecordNotFound
	}

	clone := *found

	return &clone, nil
}

func (m *memorySends) ListByRecipient(_ context.Context, ref model.Reference) ([]*model.SendRecord, error) {
	return m.listBy(ref, func(rec *model.SendRecord) *model.Reference { return rec.Recipient })
}

func (m *memorySends) ListByLinked(_ context.Context, ref model.Reference) ([]*model.SendRecord, error) {
	return m.listBy(ref, func(rec *model.SendRecord) *model.Reference { return rec.LinkedTo })
}

func (m *memorySends) listBy(ref model.Reference, field func(*model.SendRecord) *model.Reference) ([]*model.SendRecord, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	sorted := m.s.sortedSends()

	var out []*model.SendRecord
	for i := len(sorted) - 1; i >= 0; i-- {
		if got := field(sorted[i]); got != nil && *got == ref {
			clone := *sorted[i]
			out = append(out, &clone)
		}
	}

	return out, nil
}

func (m *memorySends) FindWithEvents(_ context.Context, criteria *SendCriteria) ([]model.SendWithEvents, error) {
	for dimension, values := range criteria.Filters {
		if !dimension.Valid() {
			return nil, fmt.Errorf("%w: unknown dimension %q", model.ErrInvalidFilter, dimension)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: no values for %s", model.ErrInvalidFilter, dimension)
		}
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []model.SendWithEvents

	for _, rec := range m.s.sortedSends() {
		if rec.CreatedAt.Before(criteria.From) || rec.CreatedAt.After(criteria.To) {
			continue
		}

		events := m.s.events[rec.ID]
		if !matchesCriteria(rec, events, criteria.Filters) {
			continue
		}

		item := model.SendWithEvents{Send: *rec}
		for _, ev := range events {
			item.Events = append(item.Events, *ev)
		}
		out = append(out, item)
	}

	return out, nil
}

func matchesCriteria(rec *model.SendRecord, events []*model.EventRecord, filters map[model.Dimension][]string) bool {
	for dimension, values := range filters {
		var ok bool

		switch dimension {
		case model.DimensionEmail:
			ok = contains(values, rec.Email)
		case model.DimensionCategory:
			ok = rec.Category != nil && contains(values, *rec.Category)
		case model.DimensionMessageClass:
			ok = contains(values, rec.MessageClass)
		case model.DimensionDistributionType:
			ok = contains(values, string(rec.DistributionType))
		case model.DimensionStatus:
			for _, ev := range events {
				if contains(values, string(ev.Status)) {
					ok = true
					break
				}
			}
		}

		if !ok {
			return false
		}
	}

	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}

	return false
}

func (m *memorySends) DeleteBeyondLimit(_ context.Context, keep, _ int) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	sorted := m.s.sortedSends()
	excess := len(sorted) - keep
	if excess <= 0 {
		return 0, nil
	}

	for _, rec := range sorted[:excess] {
		m.s.deleteSend(rec.ID)
	}

	return int64(excess), nil
}

func (m *memorySends) DeleteCreatedBefore(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var n int64
	for id, rec := range m.s.sends {
		if rec.CreatedAt.Before(cutoff) {
			m.s.deleteSend(id)
			n++
		}
	}

	return n, nil
}

func (m *memorySends) Count(_ context.Context) (int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	return int64(len(m.s.sends)), nil
}

type memoryEvents struct{ s *MemoryStore }

func (m *memoryEvents) Create(ctx context.Context, params *model.CreateEventRecordParams) (*model.EventRecord, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.sends[params.SendRecordID]; !ok {
		return nil, model.ErrSendRecordNotFound
	}

	m.s.lastEvID++
	event := &model.EventRecord{
		ID:           m.s.lastEvID,
		SendRecordID: params.SendRecordID,
		Status:       params.Status,
		Payload:      params.Payload,
		CreatedAt:    createdAt,
	}
	m.s.events[event.SendRecordID] = append(m.s.events[event.SendRecordID], event)

	onRollback(ctx, func() {
		list := m.s.events[event.SendRecordID]
		for i, ev := range list {
			if ev.ID == event.ID {
				m.s.events[event.SendRecordID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	})

	clone := *event

	return &clone, nil
}

func (m *memoryEvents) ListBySendRecord(_ context.Context, sendRecordID int64) ([]*model.EventRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	list := m.s.events[sendRecordID]
	out := make([]*model.EventRecord, len(list))
	for i, ev := range list {
		clone := *ev
		out[i] = &clone
	}

	return out, nil
}

func (m *memoryEvents) Latest(ctx context.Context, sendRecordID int64) (*model.EventRecord, error) {
	list, _ := m.ListBySendRecord(ctx, sendRecordID)

	var latest *model.EventRecord
	for _, ev := range list {
		if latest == nil || !ev.CreatedAt.Before(latest.CreatedAt) {
			latest = ev
		}
	}

	return latest, nil
}

func (m *memoryEvents) HasStatus(_ context.Context, sendRecordID int64, status model.EventStatus) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	for _, ev := range m.s.events[sendRecordID] {
		if ev.Status == status {
			return true, nil
		}
	}

	return false, nil
}

type memoryOutbox struct{ s *MemoryStore }

func (m *memoryOutbox) CreateEvent(ctx context.Context, params *model.CreateOutboxEventParams) (*model.OutboxEvent, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.lastObID++
	event := &model.OutboxEvent{
		ID:          m.s.lastObID,
		AggregateID: params.AggregateID,
		EventType:   params.EventType,
		Payload:     params.Payload,
		CreatedAt:   time.Now().UTC(),
	}
	m.s.outbox = append(m.s.outbox, event)

	onRollback(ctx, func() {
		for i, ev := range m.s.outbox {
			if ev.ID == event.ID {
				m.s.outbox = append(m.s.outbox[:i], m.s.outbox[i+1:]...)
				break
			}
		}
	})

	clone := *event

	return &clone, nil
}

func (m *memoryOutbox) GetUnpublishedEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []*model.OutboxEvent
	for _, ev := range m.s.outbox {
		if ev.PublishedAt != nil {
			continue
		}
		if len(out) == limit {
			break
		}
		clone := *ev
		out = append(out, &clone)
	}

	return out, nil
}

func (m *memoryOutbox) MarkAsPublished(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, ev := range m.s.outbox {
		if ev.ID == id {
			now := time.Now().UTC()
			ev.PublishedAt = &now
		}
	}

	return nil
}
