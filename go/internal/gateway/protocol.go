// Package gateway serves row-level change subscriptions to remote players
// over WebSocket and notices when a player's last connection drops.
package gateway

import (
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
)

// FrameType names a protocol frame.
type FrameType string

const (
	// client -> gateway
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"

	// gateway -> client
	FrameSubscribed   FrameType = "subscribed"
	FrameUnsubscribed FrameType = "unsubscribed"
	FrameChange       FrameType = "change"
	FrameError        FrameType = "error"
)

// ClientFrame is sent by a client. ID is chosen by the client and names
// the subscription in later frames.
type ClientFrame struct {
	Type   FrameType     `json:"type"`
	ID     string        `json:"id"`
	Filter *relay.Filter `json:"filter,omitempty"`
}

// ServerFrame is sent by the gateway.
type ServerFrame struct {
	Type   FrameType      `json:"type"`
	ID     string         `json:"id,omitempty"`
	Change *models.Change `json:"change,omitempty"`
	Error  string         `json:"error,omitempty"`
}
