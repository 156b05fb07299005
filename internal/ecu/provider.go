package ecu

import "github.com/shaunagostinho/mbe-dash/internal/mbe"

// Provider is the interface that all ECU backends must implement.
// The fixture replays captured traffic; the serial link talks to a real
// controller through a CAN bridge.
type Provider interface {
	mbe.Transport

	// Name returns the human-readable name of this ECU provider.
	Name() string
	// Connect opens the link and verifies communication.
	Connect() error
	// Close cleanly shuts down the link.
	Close() error
	// IsConnected returns whether the provider has an active connection.
	IsConnected() bool
}
