// Package protocol holds the byte-level vocabulary used to probe vendor
// peripherals: checksum-framed command frames, the fixed probe and measure
// payload scripts, and the hex-or-text payload notation typed by operators.
package protocol

// Frame header byte orders tried by the measure sequence.
var (
	HeaderAA55 = [2]byte{0xAA, 0x55}
	Header55AA = [2]byte{0x55, 0xAA}
)

// Frame is a checksum-framed command:
//
//	header[0] header[1] length command checksum
//
// The checksum is the one's complement of the byte sum of everything
// before it, modulo 256.
type Frame struct {
	Header  [2]byte
	Length  byte
	Command byte
}

// Bytes encodes the frame.
func (f Frame) Bytes() []byte {
	buf := []byte{f.Header[0], f.Header[1], f.Length, f.Command}
	return append(buf, Checksum(buf))
}

// Checksum returns ^(sum(b) & 0xFF).
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return ^sum
}

// ValidFrame reports whether b is a well-formed checksum frame with one of
// the known headers.
func ValidFrame(b []byte) bool {
	if len(b) != 5 {
		return false
	}
	hdr := [2]byte{b[0], b[1]}
	if hdr != HeaderAA55 && hdr != Header55AA {
		return false
	}
	return Checksum(b[:4]) == b[4]
}
