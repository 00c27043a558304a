// ABOUTME: Renders link codes as scannable QR images
// ABOUTME: Output is a base64 PNG data URL ready for an <img> tag

package push

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// linkImageSize is the PNG edge length in pixels.
const linkImageSize = 256

// LinkImage encodes code as a QR PNG data URL.
func LinkImage(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty link code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, linkImageSize)
	if err != nil {
		return "", fmt.Errorf("encoding qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
