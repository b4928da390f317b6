package channel

import "context"

// Sink receives in-app messages. Implemented by the delivery queue's
// notification center; kept as an interface so this package stays free of
// queue internals.
type Sink interface {
	Notify(msg Message)
}

// InAppChannel delivers messages to the local notification center. It never
// fails and needs no connectivity, which makes it a natural last-resort
// fallback in an item's channel list.
type InAppChannel struct {
	sink Sink
}

func NewInAppChannel(sink Sink) *InAppChannel {
	return &InAppChannel{sink: sink}
}

func (c *InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Send(_ context.Context, msg Message) error {
	if c.sink != nil {
		c.sink.Notify(msg)
	}
	return nil
}
