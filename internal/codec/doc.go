// Package codec implements the device wire protocol: packet framing,
// checksum validation, and encode/decode of the packet kinds the bridge
// must speak to terminate a device's TLS session on the vendor cloud's
// behalf.
//
// A packet is a 5-byte header (kind byte + big-endian uint16 length)
// followed by length payload bytes. A handful of kinds additionally carry
// an inner 0x7E-delimited structure with its own checksum; see Decode
// and Encode for the exact layout.
package codec
