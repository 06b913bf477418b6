package bus

import (
	"log/slog"

	"github.com/nullwave/voxcore/pkg/wire"
)

// ConnectionState mirrors transport.State's values without importing
// pkg/transport, keeping bus a leaf package with no dependency on any
// component above it in the composition order (§5's "process-wide
// singleton" note). The session manager is responsible for converting a
// transport.State into a ConnectionState when it re-publishes transport
// state transitions onto the bus (§4.6).
type ConnectionState string

// Bus is the process-wide event broadcaster named in §4.9: one named
// Topic per recognized channel. It holds no application logic — every
// method on it is Subscribe/Publish plumbing from [Topic].
type Bus struct {
	ConnectionState   *Topic[ConnectionState]
	ConnectionAck     *Topic[string] // session_id
	ResponseStart     *Topic[wire.Message]
	ResponseChunk     *Topic[wire.Message]
	ResponseComplete  *Topic[wire.Message]
	ResponseInterrupt *Topic[wire.Message]
	ResponseStop      *Topic[wire.Message]
	Error             *Topic[wire.Message]
}

// New creates a Bus with every channel ready to subscribe to. A nil logger
// falls back to slog.Default().
func New(log *slog.Logger) *Bus {
	return &Bus{
		ConnectionState:   NewTopic[ConnectionState]("connection_state", log),
		ConnectionAck:     NewTopic[string]("connection_ack", log),
		ResponseStart:     NewTopic[wire.Message]("response_start", log),
		ResponseChunk:     NewTopic[wire.Message]("response_chunk", log),
		ResponseComplete:  NewTopic[wire.Message]("response_complete", log),
		ResponseInterrupt: NewTopic[wire.Message]("response_interrupt", log),
		ResponseStop:      NewTopic[wire.Message]("response_stop", log),
		Error:             NewTopic[wire.Message]("error", log),
	}
}
