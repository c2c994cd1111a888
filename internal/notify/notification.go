// Package notify announces correlated mail events to the rest of the application.
package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/mail-tracker/internal/model"
)

// NameEvent is published for every persisted event, whatever its kind.
const NameEvent = "mail.event"

const namePrefix = "mail."

// Notification is the message delivered to subscribers.
type Notification struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Channel    string             `json:"channel"`
	SendRecord *model.SendRecord  `json:"send_record"`
	Event      *model.EventRecord `json:"event"`
	Raw        map[string]any     `json:"raw,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// KindName returns the kind-specific notification name, e.g. mail.delivered.
func KindName(status model.EventStatus) string {
	return namePrefix + string(status)
}

// ChannelFor scopes notifications to one send record.
func ChannelFor(sendRecordID int64) string {
	return namePrefix + strconv.FormatInt(sendRecordID, 10)
}

// New creates a notification with a fresh id.
func New(name string, send *model.SendRecord, event *model.EventRecord, raw map[string]any) *Notification {
	n := &Notification{
		ID:         uuid.NewString(),
		Name:       name,
		SendRecord: send,
		Event:      event,
		Raw:        raw,
		OccurredAt: time.Now().UTC(),
	}
	if send != nil {
		n.Channel = ChannelFor(send.ID)
	}

	return n
}

// ForEvent returns the notifications owed for one persisted event: the generic
// one first, then the kind-specific one when the kind is recognized.
func ForEvent(send *model.SendRecord, event *model.EventRecord, raw map[string]any) []*Notification {
	out := []*Notification{New(NameEvent, send, event, raw)}
	if event != nil && event.Status.Recognized() {
		out = append(out, New(KindName(event.Status), send, event, raw))
	}

	return out
}

// Encode serializes n for a transport.
func (n *Notification) Encode() ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification %s: %w", n.Name, err)
	}

	return payload, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}

	return &n, nil
}
