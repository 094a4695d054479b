package esm

import "errors"

// Sentinel errors for the semantic error kinds that do not already have a
// dedicated value in codec.go. Callers compare with errors.Is rather than
// typenames.
var (
	ErrTransportUnavailable = errors.New("esm: transport unavailable")
	ErrKeyNotFound          = errors.New("esm: key not found")
	ErrQueueUnavailable     = errors.New("esm: queue unavailable")
	ErrAdmissionDenied      = errors.New("esm: admission denied")
	ErrUndeliverable        = errors.New("esm: undeliverable")
)

// clientNotConnectedCode is the error code text used for the Send fallback
// and for the Undeliverable error kind, per the wire protocol.
const clientNotConnectedCode = "client_not_connected"

// invalidMessageTypeText is the literal diagnostic text sent for an inbound
// application message bearing a reserved system type.
const invalidMessageTypeText = "Error - Invalid message type provided"
