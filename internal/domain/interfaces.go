package domain

import (
	"context"
	"encoding/json"
)

// Transport defines the connection abstraction the ingestor consumes.
// Implementations own the socket and framing; the ingestor owns retry
// scheduling and re-subscription.
type Transport interface {
	// Connect opens the public stream.
	Connect(ctx context.Context) error
	// ConnectPrivate opens the authenticated stream. AuthError means the
	// credentials were rejected; the public stream is unaffected.
	ConnectPrivate(ctx context.Context) error
	Disconnect()

	// SendSubscribe requests the given channels for a pair on the public stream.
	SendSubscribe(pair string, channels []string) error
	// SendPrivateSubscribe requests private channels (owns, openOrders, balances).
	SendPrivateSubscribe(channels []string) error

	// Messages yields raw inbound frames from the public stream. The
	// channel is closed when the connection drops.
	Messages() <-chan json.RawMessage
	// PrivateMessages yields raw inbound frames from the private stream.
	PrivateMessages() <-chan json.RawMessage
}
