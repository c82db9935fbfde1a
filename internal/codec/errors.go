package codec

import "errors"

// Domain errors for the codec package.
var (
	// ErrBufferTooShort is returned when fewer than HeaderSize bytes are available.
	ErrBufferTooShort = errors.New("codec: buffer too short")

	// ErrUnknownKind is returned when the header's kind byte is not in PacketKind's closed set.
	ErrUnknownKind = errors.New("codec: unknown packet kind")

	// ErrLengthMismatch is returned when the declared payload length exceeds
	// MaxPayloadLength or does not match the number of payload bytes present.
	ErrLengthMismatch = errors.New("codec: invalid payload length")

	// ErrMissingMarkers is returned when a framed packet lacks its 0x7E delimiters.
	ErrMissingMarkers = errors.New("codec: missing frame markers")

	// ErrBadChecksum is returned when a framed packet's checksum cannot be
	// computed at its markers. A checksum byte that does not match is not an
	// error: Decode reports it through Packet.ChecksumValid.
	ErrBadChecksum = errors.New("codec: checksum mismatch")

	// ErrNotFramed is returned when framed-only accessors are used on a non-framed kind.
	ErrNotFramed = errors.New("codec: packet kind does not carry an inner frame")
)

// DecodeError is a typed decode failure carrying a short, credential-safe
// preview of the offending bytes (never more than previewLimit bytes, so a
// malformed handshake payload can't leak into logs).
type DecodeError struct {
	Reason      string
	DataPreview []byte
	Err         error
}

const previewLimit = 16

func newDecodeError(reason string, data []byte, err error) *DecodeError {
	preview := data
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	cpy := make([]byte, len(preview))
	copy(cpy, preview)
	return &DecodeError{Reason: reason, DataPreview: cpy, Err: err}
}

func (e *DecodeError) Error() string {
	return "codec: decode failed: " + e.Reason + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
