package codec

import "encoding/binary"

// Encode constructs a complete wire frame for a non-framed outbound kind
// (KindHandshakeAck, KindInfoAck, KindStatusAck, KindProbe, KindHeartbeatAck).
// Use EncodeCommand for KindCommand, the only outbound framed kind.
func Encode(kind PacketKind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, ErrLengthMismatch
	}
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(kind)
	frame[1] = 0 // reserved
	frame[2] = 0 // reserved
	binary.BigEndian.PutUint16(frame[3:5], uint16(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// EncodeCommand constructs an outbound KindCommand frame: it writes the
// endpoint and msgID fields, wraps data between 0x7E markers, and computes
// and inserts the checksum in place at (end_marker - 1).
func EncodeCommand(endpoint [5]byte, msgID [2]byte, data []byte) ([]byte, error) {
	// payload layout: 5 reserved bytes, 5-byte endpoint, 2-byte msgID,
	// 0x7E, data, checksum, 0x7E.
	start := msgIDOffset + msgIDLength
	payloadLen := start + 1 + len(data) + 2 // open marker + data + checksum + close marker
	payload := make([]byte, payloadLen)
	copy(payload[endpointOffset:endpointOffset+endpointLength], endpoint[:])
	copy(payload[msgIDOffset:msgIDOffset+msgIDLength], msgID[:])

	payload[start] = framedMarker
	copy(payload[start+1:], data)
	checksumIdx := start + 1 + len(data)
	endIdx := checksumIdx + 1
	payload[endIdx] = framedMarker

	checksum, ok := computeChecksum(payload, start, endIdx)
	if !ok {
		return nil, ErrMissingMarkers
	}
	payload[checksumIdx] = checksum

	return Encode(KindCommand, payload)
}
