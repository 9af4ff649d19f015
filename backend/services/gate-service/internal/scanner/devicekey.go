package scanner

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDeviceKeyRequired is returned when a reader connects without a key.
	ErrDeviceKeyRequired = errors.New("scanner: device key required")
	// ErrDeviceKeyInvalid is returned when the key does not match.
	ErrDeviceKeyInvalid = errors.New("scanner: invalid device key")
	// ErrNoDeviceKey is returned when no hash is configured, so every reader is refused.
	ErrNoDeviceKey = errors.New("scanner: no device key configured")
)

// DeviceKeys checks the shared key gate readers present when they connect.
type DeviceKeys struct {
	hash []byte
}

// NewDeviceKeys wraps a bcrypt hash produced by HashDeviceKey.
func NewDeviceKeys(hash string) *DeviceKeys {
	return &DeviceKeys{hash: []byte(strings.TrimSpace(hash))}
}

// HashDeviceKey converts a plain key into the hash stored in configuration.
func HashDeviceKey(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrDeviceKeyRequired
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks a presented key.
func (k *DeviceKeys) Verify(key string) error {
	if k == nil || len(k.hash) == 0 {
		return ErrNoDeviceKey
	}
	if key == "" {
		return ErrDeviceKeyRequired
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(key)); err != nil {
		return ErrDeviceKeyInvalid
	}
	return nil
}
