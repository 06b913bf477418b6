// Package wire implements the binary frame codec for the voicechat protocol
// (spec §3, §4.3, §6). Each application message is one frame:
//
//	{ event_type, event_id, session_id?, payload }
//
// The codec's load-bearing property is that [Decode] does not copy the
// payload's audio bytes: the returned [Message]'s Payload.Audio field is a
// slice into the buffer passed to Decode. Callers that retain a Message past
// the lifetime of that buffer (notably the playback sequencer, pkg/playback)
// must copy Payload.Audio themselves — see the package doc on [Decode].
package wire

import (
	"strings"

	"github.com/google/uuid"
)

// Message is the decoded form of one wire frame.
type Message struct {
	EventType string
	EventID   uuid.UUID
	SessionID string // zero value means absent
	Payload   Payload
}

// Payload is the union of every payload shape named in spec §6's "Recognized
// event types" table. Only the fields relevant to a given EventType are
// populated; the rest take their zero value and are omitted from the wire
// encoding via `omitempty`.
type Payload struct {
	// Success is set on acknowledgment frames; non-nil and true identifies
	// an ack per §4.5.
	Success *bool `json:"success,omitempty"`

	// SessionID appears on connection.ack payloads.
	SessionID string `json:"session_id,omitempty"`

	// SamplingRate and Language appear on *.audio.start payloads.
	SamplingRate int    `json:"samplingRate,omitempty"`
	Language     string `json:"language,omitempty"`

	// IsMuted appears on *.audio.chunk payloads alongside Audio.
	IsMuted bool `json:"isMuted,omitempty"`

	// UtteranceID appears on response.chunk payloads: every chunk belonging
	// to the same utterance shares one UtteranceID, which is the playback
	// sequencer's grouping key per §4.8 (distinct from EventID, which is
	// fresh on every frame).
	UtteranceID string `json:"utteranceId,omitempty"`

	// Message, Code and RequestType appear on *.error payloads.
	Message     string `json:"message,omitempty"`
	Code        string `json:"code,omitempty"`
	RequestType string `json:"requestType,omitempty"`

	// Audio carries raw PCM16LE bytes for *.audio.chunk and *.response.chunk
	// payloads. It is never JSON-marshalled: the codec carries it as a
	// trailing raw segment of the frame so that Decode can hand back a slice
	// of the original receive buffer instead of copying it (see package doc
	// and [Decode]).
	Audio []byte `json:"-"`
}

// IsAck reports whether m is an acknowledgment per §4.5: it carries an
// EventID (always true for a decoded Message) and its payload's Success
// field is true.
func (m Message) IsAck() bool {
	return m.Payload.Success != nil && *m.Payload.Success
}

// IsError reports whether m's EventType ends in ".error" per §6.
func (m Message) IsError() bool {
	return strings.HasSuffix(m.EventType, ".error")
}

// ErrorBase returns the EventType with a trailing ".error" suffix stripped.
// Used by the handler registry's error-routing rule (§4.4). Returns the
// EventType unchanged if it does not end in ".error".
func (m Message) ErrorBase() string {
	return strings.TrimSuffix(m.EventType, ".error")
}

// BoolPtr is a small helper for constructing Payload.Success literals
// (`wire.BoolPtr(true)`) without a local variable at every call site.
func BoolPtr(b bool) *bool { return &b }
