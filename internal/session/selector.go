package session

import (
	"strconv"
	"strings"

	"github.com/chaz8081/gattprobe/internal/ble"
)

// Selector addresses a characteristic either by its index in the current
// cache or by UUID.
type Selector struct {
	index   int
	uuid    string
	byIndex bool
}

// Index selects the characteristic at position i in discovery order.
func Index(i int) Selector { return Selector{index: i, byIndex: true} }

// UUID selects a characteristic by UUID in any accepted notation.
func UUID(s string) Selector { return Selector{uuid: ble.NormalizeUUID(s)} }

// ParseSelector treats short decimal strings (up to three digits) as an
// index and anything else as a UUID, so 16-bit UUIDs such as "1800" are
// never mistaken for an index.
func ParseSelector(s string) Selector {
	s = strings.TrimSpace(s)
	if len(s) > 0 && len(s) <= 3 {
		if i, err := strconv.Atoi(s); err == nil && i >= 0 {
			return Index(i)
		}
	}
	return UUID(s)
}

// IsIndex reports whether the selector is index based.
func (s Selector) IsIndex() bool { return s.byIndex }

func (s Selector) String() string {
	if s.byIndex {
		return "#" + strconv.Itoa(s.index)
	}
	return s.uuid
}
