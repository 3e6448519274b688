package blivedm

// Metrics receives counters from a running client. Implementations must be
// safe for concurrent use; the metrics package provides a Prometheus one.
type Metrics interface {
	// StateChanged is called on every connection state transition.
	StateChanged(from, to ConnectionState)

	// ConnectAttempt is called once per connect attempt with its outcome.
	ConnectAttempt(url string, err error)

	// PacketReceived is called for every decoded inbound packet.
	PacketReceived(op Operation)

	// ProtocolError is called for every packet dropped by the codec or dispatcher.
	ProtocolError(code ErrorCode)

	// CommandDispatched is called for every command handed to the handlers.
	CommandDispatched(tag string)
}

type nopMetrics struct{}

func (nopMetrics) StateChanged(ConnectionState, ConnectionState) {}
func (nopMetrics) ConnectAttempt(string, error)                  {}
func (nopMetrics) PacketReceived(Operation)                      {}
func (nopMetrics) ProtocolError(ErrorCode)                       {}
func (nopMetrics) CommandDispatched(string)                      {}
