package lifecycle

import (
	"fmt"
	"strings"
)

// Mode is how the gate operator identifies a vehicle.
type Mode string

const (
	ModeManual Mode = "MANUAL"
	ModeQR     Mode = "QR"
)

// ParseMode accepts either mode case-insensitively; an empty value means manual entry.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(ModeManual):
		return ModeManual, nil
	case string(ModeQR):
		return ModeQR, nil
	}
	return "", Newf(CodeInvalidRequest, "unknown entry mode %q", raw)
}

func (m Mode) String() string {
	return string(m)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeManual && m != ModeQR {
		return nil, fmt.Errorf("lifecycle: invalid mode %q", string(m))
	}
	return []byte(m), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
