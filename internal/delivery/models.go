package delivery

import "time"

// Status is the lifecycle of a queued delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusOpened    Status = "opened"
	StatusExpired   Status = "expired"
)

// Terminal reports whether a status ends the item's life in the pending queue.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusExpired, StatusOpened:
		return true
	}
	return false
}

// Attempt records one send try against one channel.
type Attempt struct {
	Channel     string    `json:"channel"`
	AttemptedAt time.Time `json:"attemptedAt"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Item is one outbound delivery. Channels is the fallback order tried at
// drain time; the first channel that succeeds wins.
type Item struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`

	Channels  []string  `json:"channels"`
	Priority  string    `json:"priority"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// Retries counts full drain passes over this item. Attempts records
	// every channel try, across all passes.
	Retries  int       `json:"retries"`
	Attempts []Attempt `json:"attempts,omitempty"`

	// NeedsReduction marks a payload a channel rejected as too large. The
	// item stays queued; the capture surface compresses or splits it before
	// the next pass.
	NeedsReduction bool `json:"needsReduction,omitempty"`
}

// Expired reports whether the item's deadline has passed as of now.
func (it *Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && now.After(it.ExpiresAt)
}

// Notification is an operator-visible message raised by the queue, e.g. when
// an item exhausts its retries.
type Notification struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Dismissed bool      `json:"dismissed"`
}

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)
