package codec

// PacketKind is the closed set of packet type bytes the bridge understands.
type PacketKind byte

// Packet kinds, named by direction and purpose. See spec §3.
const (
	KindHandshake    PacketKind = 0x23 // dev -> bridge: auth/announce
	KindHandshakeAck PacketKind = 0x28 // bridge -> dev: reply to 0x23
	KindDeviceInfo   PacketKind = 0x43 // dev -> bridge: device announces self
	KindInfoAck      PacketKind = 0x48 // bridge -> dev: reply to 0x43
	KindCommand      PacketKind = 0x73 // bridge -> dev: outbound control (framed)
	KindCommandAck   PacketKind = 0x7B // dev -> bridge: confirms 0x73
	KindStatus       PacketKind = 0x83 // dev -> bridge: state broadcast (framed)
	KindStatusAck    PacketKind = 0x88 // bridge -> dev: reply to 0x83
	KindProbe        PacketKind = 0xA3 // bridge -> dev: mesh info request
	KindHeartbeat    PacketKind = 0xC3 // dev -> bridge: liveness ping
	KindHeartbeatAlt PacketKind = 0xD3 // dev -> bridge: liveness ping (alternate)
	KindHeartbeatAck PacketKind = 0xD8 // bridge -> dev: reply to heartbeat
)

// HeaderSize is the fixed 5-byte header: 1 kind byte + 2-byte big-endian length.
const HeaderSize = 5

// MaxPayloadLength is the largest payload length the wire format allows.
const MaxPayloadLength = 4096

// framedMarker delimits the inner structure carried by framed packet kinds.
const framedMarker = 0x7E

// IsKnown reports whether k is one of the kinds the bridge handles.
func (k PacketKind) IsKnown() bool {
	switch k {
	case KindHandshake, KindHandshakeAck, KindDeviceInfo, KindInfoAck,
		KindCommand, KindCommandAck, KindStatus, KindStatusAck,
		KindProbe, KindHeartbeat, KindHeartbeatAlt, KindHeartbeatAck:
		return true
	default:
		return false
	}
}

// IsFramed reports whether packets of this kind carry a 0x7E-delimited
// inner structure with its own checksum.
func (k PacketKind) IsFramed() bool {
	return k == KindCommand || k == KindStatus
}

func (k PacketKind) String() string {
	switch k {
	case KindHandshake:
		return "HANDSHAKE"
	case KindHandshakeAck:
		return "HANDSHAKE_ACK"
	case KindDeviceInfo:
		return "DEVICE_INFO"
	case KindInfoAck:
		return "INFO_ACK"
	case KindCommand:
		return "COMMAND"
	case KindCommandAck:
		return "COMMAND_ACK"
	case KindStatus:
		return "STATUS"
	case KindStatusAck:
		return "STATUS_ACK"
	case KindProbe:
		return "PROBE"
	case KindHeartbeat, KindHeartbeatAlt:
		return "HEARTBEAT"
	case KindHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return "UNKNOWN"
	}
}

// Packet is a fully decoded wire frame.
//
// Endpoint, MsgID, Data, Checksum and ChecksumValid are only populated for
// framed kinds (KindCommand, KindStatus); see Decode.
type Packet struct {
	Kind   PacketKind
	Length uint16
	Payload []byte
	Raw    []byte

	// Framed-kind fields (zero value for non-framed kinds).
	Endpoint      [5]byte
	MsgID         [2]byte
	Data          []byte
	Checksum      byte
	ChecksumValid bool
}

// AckKindFor returns the packet kind the bridge must reply with for an
// inbound kind that requires acknowledgement, and whether one is required.
func AckKindFor(k PacketKind) (PacketKind, bool) {
	switch k {
	case KindHandshake:
		return KindHandshakeAck, true
	case KindDeviceInfo:
		return KindInfoAck, true
	case KindStatus:
		return KindStatusAck, true
	case KindHeartbeat, KindHeartbeatAlt:
		return KindHeartbeatAck, true
	default:
		return 0, false
	}
}
