package ble

import "strings"

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the canonical lower-case dashed 128-bit form of a
// UUID string. 16- and 32-bit short forms are expanded against the
// Bluetooth base UUID. Strings that are not recognisable UUIDs are
// returned trimmed and lower-cased.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	compact := strings.NewReplacer("-", "", "{", "", "}", "").Replace(s)
	if !isHex(compact) {
		return s
	}
	switch len(compact) {
	case 4:
		return "0000" + compact + baseUUIDSuffix
	case 8:
		return compact + baseUUIDSuffix
	case 32:
		return compact[0:8] + "-" + compact[8:12] + "-" + compact[12:16] + "-" + compact[16:20] + "-" + compact[20:32]
	}
	return s
}

// ShortUUID returns the first 8 hex digits of a UUID, which is how the
// log lines refer to vendor characteristics.
func ShortUUID(s string) string {
	n := NormalizeUUID(s)
	if len(n) >= 8 {
		return n[:8]
	}
	return n
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
