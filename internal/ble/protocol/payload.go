package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParsePayload decodes operator input. Hex in any of the forms
// "01 02 aa 55", "0x01,0x02", "0102aa55" or "01:02" becomes bytes;
// anything else is taken as raw text.
func ParsePayload(s string) []byte {
	if b, ok := parseHex(s); ok {
		return b
	}
	return []byte(s)
}

func parseHex(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == '\t'
	})
	if len(fields) == 1 {
		f := trimHexPrefix(fields[0])
		if len(f)%2 != 0 {
			return nil, false
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, false
		}
		return b, true
	}
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		f = trimHexPrefix(f)
		if len(f) == 0 || len(f) > 2 {
			return nil, false
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, false
		}
		out = append(out, byte(v))
	}
	return out, true
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// HexLimit renders b as hex, truncated to limit bytes with a
// "...(+NB)" suffix. A limit <= 0 disables truncation.
func HexLimit(b []byte, limit int) string {
	if limit > 0 && len(b) > limit {
		return fmt.Sprintf("%s...(+%dB)", hex.EncodeToString(b[:limit]), len(b)-limit)
	}
	return hex.EncodeToString(b)
}

// Quote renders b as a Go-quoted byte string for log lines.
func Quote(b []byte) string {
	return strconv.Quote(string(b))
}
