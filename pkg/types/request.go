package types

import "time"

// Status tracks a request through its lifecycle. Transitions only move
// forward: pending -> processing -> one of the terminal states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Delivery channels accepted at submission time.
const (
	ChannelEmail  = "email"
	ChannelUpload = "upload"
)

// KnownChannel reports whether ch is a recognised delivery channel.
func KnownChannel(ch string) bool {
	return ch == ChannelEmail || ch == ChannelUpload
}

// DocumentType is one catalog entry describing a retrievable certificate.
// The ID doubles as the adapter lookup key.
type DocumentType struct {
	ID      string `json:"id"`
	Origin  string `json:"origin"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// Credentials carries the portal secrets for one subject. The secret is
// never logged and never rendered into outbound notifications.
type Credentials struct {
	Subject      string `json:"-"`
	Secret       string `json:"-"`
	SupportingID string `json:"-"`
}

// DocumentResult is the outcome of one adapter invocation. Exactly one of
// Payload and Error is populated once the adapter has completed.
type DocumentResult struct {
	DocumentType string `json:"document_type"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Payload      string `json:"payload,omitempty"` // base64-encoded document bytes
	Error        string `json:"error,omitempty"`
}

// Request is one unit of retrieval work submitted by a requester.
type Request struct {
	ID            int64            `json:"id"`
	Subject       string           `json:"subject"`
	Contact       string           `json:"contact"`
	DocumentTypes []string         `json:"document_types"`
	Channels      []string         `json:"channels"`
	Status        Status           `json:"status"`
	Results       []DocumentResult `json:"results,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`

	Credentials Credentials `json:"-"`
}
