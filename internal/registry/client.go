package registry

import (
	"time"

	"github.com/agenthub/agenthub/pkg/protocol"
)

// Transport is the connection surface the registry tracks per client.
// The registry never sends or closes on its own; it hands the transport
// back to callers that do.
type Transport interface {
	Send(msg protocol.Message) error
	Close() error
}

// Client is one registered peer, device or constellation.
type Client struct {
	ID       string
	Type     protocol.ClientType
	Platform string

	Transport Transport

	// Metadata is the raw bag the client sent with REGISTER.
	Metadata map[string]any

	// SystemInfo is the device's reported capabilities after the
	// server-side overlay merge. Empty for constellations.
	SystemInfo map[string]any

	ConnectedAt time.Time
}
