package codec

import "encoding/binary"

// endpointOffset and msgIDOffset are the fixed positions of the mesh
// endpoint and message-id fields within a framed packet's payload (spec §4.1).
const (
	endpointOffset = 5
	endpointLength = 5
	msgIDOffset    = endpointOffset + endpointLength
	msgIDLength    = 2
)

// Decode parses a complete wire frame (header + payload, exactly
// HeaderSize+length bytes) into a Packet.
//
// It never partially trusts a truncated buffer: callers are expected to
// have already used Framer to carve out a complete frame.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, newDecodeError("too_short", frame, ErrBufferTooShort)
	}

	kind := PacketKind(frame[0])
	if !kind.IsKnown() {
		return nil, newDecodeError("unknown_kind", frame, ErrUnknownKind)
	}

	length := binary.BigEndian.Uint16(frame[3:5])
	if int(length) > MaxPayloadLength {
		return nil, newDecodeError("length_mismatch", frame, ErrLengthMismatch)
	}
	if len(frame) != HeaderSize+int(length) {
		return nil, newDecodeError("length_mismatch", frame, ErrLengthMismatch)
	}

	payload := frame[HeaderSize:]
	raw := make([]byte, len(frame))
	copy(raw, frame)

	p := &Packet{
		Kind:    kind,
		Length:  length,
		Payload: payload,
		Raw:     raw,
	}

	if !kind.IsFramed() {
		return p, nil
	}

	if len(payload) < msgIDOffset+msgIDLength {
		return nil, newDecodeError("missing_markers", frame, ErrMissingMarkers)
	}
	copy(p.Endpoint[:], payload[endpointOffset:endpointOffset+endpointLength])
	copy(p.MsgID[:], payload[msgIDOffset:msgIDOffset+msgIDLength])

	start, end, ok := findMarkers(payload)
	if !ok {
		return nil, newDecodeError("missing_markers", frame, ErrMissingMarkers)
	}

	checksumIdx := end - 1
	if checksumIdx <= start {
		return nil, newDecodeError("missing_markers", frame, ErrMissingMarkers)
	}
	p.Checksum = payload[checksumIdx]
	p.Data = append([]byte(nil), payload[start+1:checksumIdx]...)

	computed, ok := computeChecksum(payload, start, end)
	if !ok {
		return nil, newDecodeError("bad_checksum", frame, ErrBadChecksum)
	}
	p.ChecksumValid = computed == p.Checksum

	return p, nil
}

// InnerData returns the decoded inner payload for a framed packet, stripped
// of its 0x7E markers and checksum byte. Returns ErrNotFramed for kinds that
// don't carry an inner structure.
func (p *Packet) InnerData() ([]byte, error) {
	if !p.Kind.IsFramed() {
		return nil, ErrNotFramed
	}
	return p.Data, nil
}
