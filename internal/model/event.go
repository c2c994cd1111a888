package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventStatus is a delivery lifecycle state reported by the provider.
type EventStatus string

// Lifecycle statuses, spelled the way SendGrid's event webhook reports them.
const (
	// StatusProcessed means the provider accepted the message for delivery.
	StatusProcessed EventStatus = "processed"
	// StatusDropped means the provider refused to send, e.g. to a suppressed address.
	StatusDropped EventStatus = "dropped"
	// StatusDelivered means the receiving server accepted the message.
	StatusDelivered EventStatus = "delivered"
	// StatusDeferred means the receiving server asked the provider to retry later.
	StatusDeferred EventStatus = "deferred"
	// StatusBounce means the receiving server permanently rejected the message.
	StatusBounce EventStatus = "bounce"
	// StatusOpen means the recipient opened the message.
	StatusOpen EventStatus = "open"
	// StatusClick means the recipient followed a tracked link.
	StatusClick EventStatus = "click"
	// StatusSpamReport means the recipient marked the message as spam.
	StatusSpamReport EventStatus = "spamreport"
	// StatusUnsubscribe means the recipient unsubscribed from all mail.
	StatusUnsubscribe EventStatus = "unsubscribe"
	// StatusGroupUnsubscribe means the recipient left one suppression group.
	StatusGroupUnsubscribe EventStatus = "group_unsubscribe"
	// StatusGroupResubscribe means the recipient rejoined a suppression group.
	StatusGroupResubscribe EventStatus = "group_resubscribe"
)

// statusAliases maps alternative spellings onto the provider's.
var statusAliases = map[EventStatus]EventStatus{
	"spam-report":       StatusSpamReport,
	"spam_report":       StatusSpamReport,
	"group-unsubscribe": StatusGroupUnsubscribe,
	"group-resubscribe": StatusGroupResubscribe,
}

// LifecycleStatuses lists every recognized status in provider order.
var LifecycleStatuses = []EventStatus{
	StatusProcessed,
	StatusDropped,
	StatusDelivered,
	StatusDeferred,
	StatusBounce,
	StatusOpen,
	StatusClick,
	StatusSpamReport,
	StatusUnsubscribe,
	StatusGroupUnsubscribe,
	StatusGroupResubscribe,
}

// Canonical returns the provider spelling of s; statuses without an alias are returned unchanged.
func (s EventStatus) Canonical() EventStatus {
	if canonical, ok := statusAliases[s]; ok {
		return canonical
	}

	return s
}

// Recognized reports whether s, or the status it is an alias of, belongs to
// the fixed lifecycle vocabulary.
func (s EventStatus) Recognized() bool {
	canonical := s.Canonical()
	for _, known := range LifecycleStatuses {
		if canonical == known {
			return true
		}
	}

	return false
}

// EventRecord is a correlated webhook callback. It is never updated after creation.
type EventRecord struct {
	ID           int64          `json:"id"`
	SendRecordID int64          `json:"send_record_id"`
	Status       EventStatus    `json:"status"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CreateEventRecordParams represents parameters for inserting an event record.
type CreateEventRecordParams struct {
	SendRecordID int64
	Status       EventStatus
	Payload      map[string]any
	CreatedAt    time.Time
}

// RawEvent is one element of a provider webhook batch.
type RawEvent struct {
	TrackerID int64
	Email     string
	Kind      string
	Timestamp time.Time
	// Fields holds every provider key, including the ones above.
	Fields map[string]any
}

// Status returns the event kind as a status value in its canonical spelling.
func (e *RawEvent) Status() EventStatus {
	return EventStatus(e.Kind).Canonical()
}

// ProviderEventID returns the provider's own event id (sg_event_id), if present.
func (e *RawEvent) ProviderEventID() string {
	if id, ok := e.Fields["sg_event_id"].(string); ok {
		return id
	}

	return ""
}

// ParseRawEvent decodes one webhook element. tracker_id may be a JSON number or a numeric string.
func ParseRawEvent(data []byte) (*RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	trackerID, err := parseTrackerID(fields["tracker_id"])
	if err != nil {
		return nil, err
	}

	email, _ := fields["email"].(string)
	kind, _ := fields["event"].(string)

	if strings.TrimSpace(email) == "" || strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("%w: email and event are required", ErrMalformedEvent)
	}

	return &RawEvent{
		TrackerID: trackerID,
		Email:     email,
		Kind:      kind,
		Timestamp: parseTimestamp(fields["timestamp"]),
		Fields:    fields,
	}, nil
}

func parseTrackerID(v any) (int64, error) {
	var raw string

	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return 0, fmt.Errorf("%w: tracker_id is required", ErrMalformedEvent)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: tracker_id %q is not an integer", ErrMalformedEvent, raw)
	}

	return id, nil
}

func parseTimestamp(v any) time.Time {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}
	}

	secs, err := n.Int64()
	if err != nil {
		return time.Time{}
	}

	return time.Unix(secs, 0).UTC()
}
