package qr

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	bqr "github.com/boombuler/barcode/qr"
)

const (
	minImageSize     = 64
	maxImageSize     = 1024
	defaultImageSize = 256
)

// RenderPNG draws the payload as a square QR image for the confirmation screen.
func RenderPNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("qr: render: %w", ErrMissingField)
	}
	if size <= 0 {
		size = defaultImageSize
	}
	if size < minImageSize {
		size = minImageSize
	}
	if size > maxImageSize {
		size = maxImageSize
	}

	code, err := bqr.Encode(payload, bqr.M, bqr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("qr: scale: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("qr: png: %w", err)
	}
	return buf.Bytes(), nil
}
