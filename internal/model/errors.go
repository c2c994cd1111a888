package model

import "errors"

var (
	// ErrInvalidLink is returned when a send is linked to something that is not a registered entity.
	ErrInvalidLink = errors.New("linked-to reference must be a registered entity")
	// ErrInvalidReference is returned when a reference has an empty kind or id.
	ErrInvalidReference = errors.New("reference requires kind and id")
	// ErrUnknownKind is returned when a reference kind has no resolver.
	ErrUnknownKind = errors.New("unknown reference kind")
	// ErrNoRecipients is returned when a send has no trackable recipients.
	ErrNoRecipients = errors.New("send has no trackable recipients")
	// ErrInvalidEmail is returned when a recipient email is empty.
	ErrInvalidEmail = errors.New("email is required")
	// ErrInvalidDistributionType is returned for anything other than to, cc or bcc.
	ErrInvalidDistributionType = errors.New("distribution type must be to, cc or bcc")
	// ErrInvalidMessageClass is returned when a send has no message class.
	ErrInvalidMessageClass = errors.New("message class is required")
	// ErrSendRecordNotFound is returned when no send record matches the lookup.
	ErrSendRecordNotFound = errors.New("send record not found")
	// ErrMalformedEvent is returned when a webhook element lacks tracker_id, email or event.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrInvalidPeriod is returned when a stats period ends before it starts.
	ErrInvalidPeriod = errors.New("period start must not be after its end")
	// ErrUnknownWindow is returned for an unsupported named window.
	ErrUnknownWindow = errors.New("unknown stats window")
	// ErrInvalidFilter is returned for an unknown filter dimension or an empty value list.
	ErrInvalidFilter = errors.New("invalid stats filter")
	// ErrInvalidGranularity is returned for an unknown bucket name.
	ErrInvalidGranularity = errors.New("invalid stats granularity")
	// ErrInvalidRetention is returned for an unusable retention policy.
	ErrInvalidRetention = errors.New("invalid retention policy")
)
