package channel

import (
	"context"
	"time"
)

// Channel is the provider-agnostic delivery mechanism used by the queue.
//
// Rules:
//   - No provider SDK/HTTP calls outside channel adapters.
//   - Send must be safe to call again with the same message id; downstream
//     dedup by id is the correctness backstop for re-delivery.
//   - Adapters must honor ctx for timeouts/cancellation.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Message is the channel-agnostic payload of one delivery.
type Message struct {
	// ID is the queue item id. Downstream systems deduplicate on it.
	ID string `json:"id"`

	// Kind distinguishes delivery intents: notification, access_link.
	Kind string `json:"kind"`

	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body,omitempty"`
	Recipient string `json:"recipient,omitempty"`

	// Meta carries channel-specific extras (e.g., link URL, job id).
	Meta map[string]string `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

const (
	KindNotification = "notification"
	KindAccessLink   = "access_link"
)

// Registry maps channel names to adapters. The queue resolves an item's
// declared channel list against it at drain time; unknown names fail that
// attempt (and fall through to the next channel).
type Registry map[string]Channel

func NewRegistry(channels ...Channel) Registry {
	r := Registry{}
	for _, c := range channels {
		r[c.Name()] = c
	}
	return r
}
