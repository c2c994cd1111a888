// Package model defines domain models and data structures.
package model

import (
	"strings"
	"time"
)

// DistributionType is the address header a recipient was reached through.
type DistributionType string

const (
	// DistributionTo is the primary recipient list.
	DistributionTo DistributionType = "to"
	// DistributionCC is the carbon-copy list.
	DistributionCC DistributionType = "cc"
	// DistributionBCC is the blind carbon-copy list.
	DistributionBCC DistributionType = "bcc"
)

// ParseDistributionType validates a distribution type name.
func ParseDistributionType(s string) (DistributionType, error) {
	switch DistributionType(strings.ToLower(strings.TrimSpace(s))) {
	case DistributionTo:
		return DistributionTo, nil
	case DistributionCC:
		return DistributionCC, nil
	case DistributionBCC:
		return DistributionBCC, nil
	default:
		return "", ErrInvalidDistributionType
	}
}

// NotQueued is the queue key used for sends that were delivered synchronously.
const NotQueued = "not-queued"

// SendRecord is one recipient of one logical send.
type SendRecord struct {
	ID               int64            `json:"id"`
	TrackerID        int64            `json:"tracker_id"`
	Email            string           `json:"email"`
	Recipient        *Reference       `json:"recipient,omitempty"`
	LinkedTo         *Reference       `json:"linked_to,omitempty"`
	DistributionType DistributionType `json:"distribution_type"`
	Category         *string          `json:"category,omitempty"`
	Queue            *string          `json:"queue,omitempty"`
	MessageClass     string           `json:"message_class"`
	CreatedAt        time.Time        `json:"created_at"`
}

// QueueKey returns the queue name, or NotQueued for synchronous sends.
func (r *SendRecord) QueueKey() string {
	if r.Queue == nil || *r.Queue == "" {
		return NotQueued
	}

	return *r.Queue
}

// RecipientInfo describes one addressee handed over by the mail shim.
type RecipientInfo struct {
	Email            string
	DistributionType DistributionType
	Recipient        *Reference
}

// SendMeta carries the attributes shared by every recipient of a send.
type SendMeta struct {
	MessageClass string
	Category     *string
	Queue        *string
	LinkedTo     *Reference
}

// CreateSendRecordParams represents parameters for inserting a send record.
type CreateSendRecordParams struct {
	TrackerID        int64
	Email            string
	Recipient        *Reference
	LinkedTo         *Reference
	DistributionType DistributionType
	Category         *string
	Queue            *string
	MessageClass     string
	CreatedAt        time.Time
}

// Validate validates the send record parameters.
func (p *CreateSendRecordParams) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return ErrInvalidEmail
	}

	if _, err := ParseDistributionType(string(p.DistributionType)); err != nil {
		return err
	}

	if strings.TrimSpace(p.MessageClass) == "" {
		return ErrInvalidMessageClass
	}

	return nil
}

// SendWithEvents is a send record together with every event attached to it.
type SendWithEvents struct {
	Send   SendRecord
	Events []EventRecord
}
