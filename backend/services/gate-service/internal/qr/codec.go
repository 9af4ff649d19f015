// Package qr encodes and decodes the payload printed on booking confirmations and read
// back at the gates. It knows nothing about session state.
package qr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadType marks payloads produced by this codec.
const PayloadType = "parking_session"

var (
	// ErrMalformedPayload is returned when the scanned text is not a parking-session object.
	ErrMalformedPayload = errors.New("qr: malformed payload")
	// ErrMissingField is returned when the payload does not carry a session id.
	ErrMissingField = errors.New("qr: missing session_id")
)

// Payload identifies a session at the gate.
type Payload struct {
	SessionID     string `json:"session_id"`
	VehicleNumber string `json:"vehicle_number"`
	Type          string `json:"type"`
}

// Encode is deterministic: the same session always yields byte-identical text, which the
// "track my booking" recovery relies on.
func Encode(sessionID, vehicleNumber string) string {
	// Marshalling a struct of strings cannot fail and keeps the field order fixed.
	data, _ := json.Marshal(Payload{
		SessionID:     sessionID,
		VehicleNumber: vehicleNumber,
		Type:          PayloadType,
	})
	return string(data)
}

// Decode parses scanned text. It never panics; any unusable scan is reported as
// ErrMalformedPayload or ErrMissingField.
func Decode(text string) (Payload, error) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, ErrMalformedPayload
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var p Payload
	if raw, ok := fields["type"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &p.Type); err != nil {
			return Payload{}, fmt.Errorf("%w: type is not a string", ErrMalformedPayload)
		}
		if p.Type != PayloadType {
			return Payload{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedPayload, p.Type)
		}
	}

	raw, ok := fields["session_id"]
	if !ok || isNull(raw) {
		return Payload{}, ErrMissingField
	}
	id, err := scalarText(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: session_id %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(id) == "" {
		return Payload{}, ErrMissingField
	}
	p.SessionID = id

	if raw, ok := fields["vehicle_number"]; ok && !isNull(raw) {
		plate, err := scalarText(raw)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: vehicle_number %v", ErrMalformedPayload, err)
		}
		p.VehicleNumber = plate
	}
	p.Type = PayloadType
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// scalarText accepts a JSON string or number; older confirmations carry numeric ids.
func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.New("must be a string or number")
	}
	return n.String(), nil
}
