package ble

import (
	"fmt"
	"strings"
)

// Property is a single characteristic capability tag.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// AllProperties lists every known tag in display order.
var AllProperties = []Property{PropRead, PropWrite, PropWriteWithoutResponse, PropNotify, PropIndicate}

func (p Property) String() string {
	switch p {
	case PropRead:
		return "read"
	case PropWrite:
		return "write"
	case PropWriteWithoutResponse:
		return "write-without-response"
	case PropNotify:
		return "notify"
	case PropIndicate:
		return "indicate"
	default:
		return fmt.Sprintf("property(0x%02x)", uint8(p))
	}
}

// ParseProperty parses a tag name as printed by Property.String.
func ParseProperty(s string) (Property, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return PropRead, nil
	case "write":
		return PropWrite, nil
	case "write-without-response", "write_without_response", "writenr":
		return PropWriteWithoutResponse, nil
	case "notify":
		return PropNotify, nil
	case "indicate":
		return PropIndicate, nil
	default:
		return 0, fmt.Errorf("ble: unknown property %q", s)
	}
}

// Properties is a set of Property tags.
type Properties uint8

// NewProperties builds a set from individual tags.
func NewProperties(ps ...Property) Properties {
	var out Properties
	for _, p := range ps {
		out |= Properties(p)
	}
	return out
}

// ParseProperties parses a list of tag names into a set.
func ParseProperties(names []string) (Properties, error) {
	var out Properties
	for _, n := range names {
		p, err := ParseProperty(n)
		if err != nil {
			return 0, err
		}
		out |= Properties(p)
	}
	return out, nil
}

// Has reports whether p is in the set.
func (ps Properties) Has(p Property) bool { return ps&Properties(p) != 0 }

// Empty reports whether the set has no known tags.
func (ps Properties) Empty() bool { return ps&NewProperties(AllProperties...) == 0 }

// CanRead reports read support.
func (ps Properties) CanRead() bool { return ps.Has(PropRead) }

// CanWrite reports support for either write mode.
func (ps Properties) CanWrite() bool { return ps.Has(PropWrite) || ps.Has(PropWriteWithoutResponse) }

// CanNotify reports notify or indicate support.
func (ps Properties) CanNotify() bool { return ps.Has(PropNotify) || ps.Has(PropIndicate) }

// WriteWithoutResponseOnly reports whether the only write mode offered is
// write-without-response.
func (ps Properties) WriteWithoutResponseOnly() bool {
	return ps.Has(PropWriteWithoutResponse) && !ps.Has(PropWrite)
}

// Names returns the tag names in display order.
func (ps Properties) Names() []string {
	var out []string
	for _, p := range AllProperties {
		if ps.Has(p) {
			out = append(out, p.String())
		}
	}
	return out
}

func (ps Properties) String() string {
	return "[" + strings.Join(ps.Names(), ", ") + "]"
}
