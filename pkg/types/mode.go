package types

import (
	"fmt"
	"strings"
)

// Mode is the operational risk posture of the trading system
type Mode int32

const (
	ModeInit Mode = iota
	ModeRunning
	ModeReduceOnly
	ModeHalted
	ModeManualOverride
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "INIT"
	case ModeRunning:
		return "RUNNING"
	case ModeReduceOnly:
		return "REDUCE_ONLY"
	case ModeHalted:
		return "HALTED"
	case ModeManualOverride:
		return "MANUAL_OVERRIDE"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// ParseMode parses a mode name, case-insensitively
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INIT":
		return ModeInit, nil
	case "RUNNING":
		return ModeRunning, nil
	case "REDUCE_ONLY", "REDUCE-ONLY":
		return ModeReduceOnly, nil
	case "HALTED", "HALT":
		return ModeHalted, nil
	case "MANUAL_OVERRIDE":
		return ModeManualOverride, nil
	}
	return ModeInit, fmt.Errorf("unknown mode %q", s)
}

// Severity orders modes by restrictiveness: RUNNING < REDUCE_ONLY < HALTED.
// INIT and MANUAL_OVERRIDE freeze trading and rank with HALTED.
func (m Mode) Severity() int {
	switch m {
	case ModeRunning:
		return 0
	case ModeReduceOnly:
		return 1
	default:
		return 2
	}
}

// MoreRestrictiveThan reports whether m is strictly more restrictive than other
func (m Mode) MoreRestrictiveThan(other Mode) bool {
	return m.Severity() > other.Severity()
}

// MostRestrictive returns the most restrictive of the given modes, RUNNING when empty
func MostRestrictive(modes ...Mode) Mode {
	out := ModeRunning
	for _, m := range modes {
		if m.MoreRestrictiveThan(out) {
			out = m
		}
	}
	return out
}

// IsCeiling reports whether m may be used as a trigger ceiling
func (m Mode) IsCeiling() bool {
	return m == ModeRunning || m == ModeReduceOnly || m == ModeHalted
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
