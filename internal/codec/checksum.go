package codec

// checksumOffsetAfterStart is the empirical offset into the inner structure,
// measured from the first 0x7E marker, where the summed region begins.
// Verified against eleven captured packets with known checksums (spec §4.1,
// §8 property 1).
const checksumOffsetAfterStart = 6

// computeChecksum sums payload[start+checksumOffsetAfterStart : end-1] mod
// 256, where start is the index of the first 0x7E marker in payload and end
// is the index of the last. When the inner data is too short to reach
// start+checksumOffsetAfterStart the summed region is empty and the
// checksum is 0. Returns ok=false if the checksum byte at end-1 does not
// lie between the markers.
func computeChecksum(payload []byte, start, end int) (byte, bool) {
	lo := start + checksumOffsetAfterStart
	hi := end - 1
	if hi <= start || hi > len(payload) {
		return 0, false
	}
	if hi < lo {
		return 0, true
	}
	var sum int
	for _, b := range payload[lo:hi] {
		sum += int(b)
	}
	return byte(sum % 256), true
}

// findMarkers locates the first and last 0x7E bytes in payload.
// Returns ok=false if fewer than two markers exist.
func findMarkers(payload []byte) (start, end int, ok bool) {
	start = -1
	for i, b := range payload {
		if b == framedMarker {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	end = -1
	for i := len(payload) - 1; i > start; i-- {
		if payload[i] == framedMarker {
			end = i
			break
		}
	}
	if end < 0 {
		return 0, 0, false
	}
	return start, end, true
}
