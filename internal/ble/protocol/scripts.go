package protocol

// ProbePayloads is the ordered list written to every vendor write
// characteristic by the probe sweep.
func ProbePayloads() [][]byte {
	return [][]byte{
		{0x01}, {0x02}, {0x03}, {0x00}, {0x01, 0x00}, {0x00, 0x01},
		{0x55}, {0xAA}, {0xA0}, {0xFF},
		[]byte("R"), []byte("READ"), []byte("MEAS"), []byte("START"),
	}
}

// MeasureCommands are the command bytes wrapped in checksum frames.
var MeasureCommands = []byte{0x01, 0x02, 0x10, 0x20}

// MeasureFrames returns the trigger-path script: for each command an
// AA55 frame then a 55AA frame, followed by bare single bytes and short
// ASCII tokens.
func MeasureFrames() [][]byte {
	var out [][]byte
	for _, c := range MeasureCommands {
		out = append(out,
			Frame{Header: HeaderAA55, Command: c}.Bytes(),
			Frame{Header: Header55AA, Command: c}.Bytes(),
		)
	}
	for _, b := range []byte{0x01, 0x02, 0x03, 0x10, 0x20, 0x30} {
		out = append(out, []byte{b})
	}
	for _, t := range []string{"M", "G", "C", "R", "MEAS", "READ", "START"} {
		out = append(out, []byte(t))
	}
	return out
}

// MeasureAltCommands is the shorter script replayed on the alternate
// characteristic.
func MeasureAltCommands() [][]byte {
	return [][]byte{{0x01}, {0x02}, {0x10}, []byte("M"), []byte("MEAS"), []byte("R")}
}

// BruteSeeds are the first bytes of the two-byte sweep on the trigger
// characteristic; AltBruteSeeds are used on the alternate path.
var (
	BruteSeeds    = []byte{0x01, 0x02, 0x10}
	AltBruteSeeds = []byte{0x01, 0x02, 0x10, 0x20}
)
