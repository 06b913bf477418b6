package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nullwave/voxcore/pkg/voxerr"
)

// frame layout, all integers big-endian:
//
//	event_type_len  uint16 | event_type  []byte
//	event_id_len    uint16 | event_id    []byte  (36-byte canonical UUID string)
//	session_id_len  uint16 | session_id  []byte  (0 length means absent)
//	meta_len        uint32 | meta        []byte  (JSON-encoded Payload, Audio omitted)
//	audio           []byte                       (remainder of the frame, raw PCM16LE)
const (
	lenFieldU16 = 2
	lenFieldU32 = 4
)

// Encode serializes m into a single wire frame.
func Encode(m Message) ([]byte, error) {
	meta, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, voxerr.Wrap(voxerr.KindDecodeError, "marshal payload metadata", err)
	}

	eventType := []byte(m.EventType)
	eventID := []byte(m.EventID.String())
	sessionID := []byte(m.SessionID)

	size := lenFieldU16 + len(eventType) +
		lenFieldU16 + len(eventID) +
		lenFieldU16 + len(sessionID) +
		lenFieldU32 + len(meta) +
		len(m.Payload.Audio)

	buf := make([]byte, size)
	off := 0

	off += putString16(buf[off:], eventType)
	off += putString16(buf[off:], eventID)
	off += putString16(buf[off:], sessionID)

	binary.BigEndian.PutUint32(buf[off:], uint32(len(meta)))
	off += lenFieldU32
	off += copy(buf[off:], meta)

	copy(buf[off:], m.Payload.Audio)

	return buf, nil
}

// Decode parses a single wire frame out of buf.
//
// The returned Message's Payload.Audio is a slice of buf itself, not a copy:
// Decode performs no allocation for the audio segment. Callers that need to
// retain the Message beyond the lifetime of buf (e.g. after handing buf back
// to a connection's read-buffer pool) must copy Payload.Audio before doing
// so. This trade is deliberate: it is the hot path for every audio chunk the
// session receives, and the playback sequencer (pkg/playback) already copies
// the bytes into a slice it owns on arrival, so the aliasing is contained
// to a single, well-understood hop.
func Decode(buf []byte) (Message, error) {
	var m Message

	eventType, rest, err := takeString16(buf, "event_type")
	if err != nil {
		return m, err
	}
	eventIDRaw, rest, err := takeString16(rest, "event_id")
	if err != nil {
		return m, err
	}
	sessionIDRaw, rest, err := takeString16(rest, "session_id")
	if err != nil {
		return m, err
	}

	if len(rest) < lenFieldU32 {
		return m, voxerr.New(voxerr.KindDecodeError, "frame truncated before meta_len")
	}
	metaLen := binary.BigEndian.Uint32(rest)
	rest = rest[lenFieldU32:]
	if uint64(len(rest)) < uint64(metaLen) {
		return m, voxerr.New(voxerr.KindDecodeError, "frame truncated in meta segment")
	}
	meta := rest[:metaLen]
	audio := rest[metaLen:]

	var payload Payload
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &payload); err != nil {
			return m, voxerr.Wrap(voxerr.KindDecodeError, "unmarshal payload metadata", err)
		}
	}
	if len(audio) > 0 {
		payload.Audio = audio
	}

	m.EventType = string(eventType)
	m.SessionID = string(sessionIDRaw)
	m.Payload = payload

	if len(eventIDRaw) > 0 {
		id, err := uuid.Parse(string(eventIDRaw))
		if err != nil {
			return m, voxerr.Wrap(voxerr.KindDecodeError, "parse event_id", err)
		}
		m.EventID = id
	}

	return m, nil
}

func putString16(dst []byte, s []byte) int {
	binary.BigEndian.PutUint16(dst, uint16(len(s)))
	n := lenFieldU16 + copy(dst[lenFieldU16:], s)
	return n
}

func takeString16(buf []byte, field string) (value []byte, rest []byte, err error) {
	if len(buf) < lenFieldU16 {
		return nil, nil, voxerr.New(voxerr.KindDecodeError, fmt.Sprintf("frame truncated before %s_len", field))
	}
	n := binary.BigEndian.Uint16(buf)
	buf = buf[lenFieldU16:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, voxerr.New(voxerr.KindDecodeError, fmt.Sprintf("frame truncated in %s segment", field))
	}
	return buf[:n], buf[n:], nil
}

// NewEventID produces a time-ordered event identifier per §4.9's requirement
// that lexicographic and chronological order agree.
func NewEventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system RNG is broken, in which case a
		// random-but-unordered ID is preferable to a panic.
		return uuid.New()
	}
	return id
}
