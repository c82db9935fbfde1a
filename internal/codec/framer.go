package codec

import "encoding/binary"

// minRecoveryAttempts and maxRecoveryAttempts bound the framer's recovery
// budget: max(100, min(1000, bufsize/5)) attempts, each advancing by one
// header width. This keeps corrupt-input recovery O(n) instead of O(n^2)
// (spec §4.1, §8 property 3).
const (
	minRecoveryAttempts = 100
	maxRecoveryAttempts = 1000
)

// Framer consumes a byte stream incrementally and yields complete frames.
// It is not safe for concurrent use; a Session's single-threaded Reader
// owns it exclusively.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends data to the internal buffer and extracts every complete
// frame now available. Incomplete trailing data is retained for the next
// call.
func (f *Framer) Feed(data []byte) [][]byte {
	f.buf = append(f.buf, data...)
	return f.extract()
}

// Len reports the number of buffered, not-yet-framed bytes.
func (f *Framer) Len() int {
	return len(f.buf)
}

func recoveryBudget(bufLen int) int {
	budget := bufLen / HeaderSize
	if budget < minRecoveryAttempts {
		budget = minRecoveryAttempts
	}
	if budget > maxRecoveryAttempts {
		budget = maxRecoveryAttempts
	}
	return budget
}

func (f *Framer) extract() [][]byte {
	var frames [][]byte
	attempts := 0
	budget := recoveryBudget(len(f.buf))

	for len(f.buf) >= HeaderSize {
		if attempts > budget {
			// Recovery budget exhausted: the buffer is corrupt beyond
			// recovery at this size. Clear it so future Feed calls start
			// clean rather than re-scanning dead bytes forever.
			f.buf = nil
			return frames
		}

		length := binary.BigEndian.Uint16(f.buf[3:5])
		if int(length) > MaxPayloadLength {
			advance := HeaderSize
			if advance > len(f.buf) {
				advance = len(f.buf)
			}
			f.buf = f.buf[advance:]
			attempts++
			continue
		}

		total := HeaderSize + int(length)
		if len(f.buf) < total {
			// Incomplete frame; wait for more data.
			break
		}

		frame := make([]byte, total)
		copy(frame, f.buf[:total])
		frames = append(frames, frame)
		f.buf = f.buf[total:]
		attempts = 0
		budget = recoveryBudget(len(f.buf))
	}

	return frames
}
