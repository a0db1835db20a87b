package handlers

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/facehive/facehive/internal/apierr"
)

const (
	minDimension = 10
	maxDimension = 4096
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	riffTag   = []byte("RIFF")
	webpTag   = []byte("WEBP")
)

// decodeImage validates and decodes a base64-encoded image per §4.5's
// pipeline: base64-decode, magic-byte check, dimension bounds. It returns
// the raw decoded bytes (handed to FaceModel, which may use its own
// decoder) alongside the bounds-checked dimensions. WebP input is not
// bounds-checked and comes back with zero width and height.
func decodeImage(imageB64 string) (raw []byte, width, height int, err error) {
	if imageB64 == "" {
		return nil, 0, 0, apierr.New(apierr.InvalidInput, "image_b64 is required")
	}
	raw, decodeErr := base64.StdEncoding.DecodeString(imageB64)
	if decodeErr != nil {
		return nil, 0, 0, apierr.Wrap(apierr.InvalidInput, decodeErr, "malformed base64 image")
	}
	if !hasSupportedMagic(raw) {
		return nil, 0, 0, apierr.New(apierr.InvalidInput, "unsupported image format")
	}

	// image/jpeg and image/png are registered by this package's blank
	// imports; WebP has no stdlib decoder and no grounded third-party one
	// in this repository's dependency set, so WebP images skip the
	// dimension check and reach the FaceModel as they are.
	if bytes.HasPrefix(raw, jpegMagic) || bytes.HasPrefix(raw, pngMagic) {
		cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(raw))
		if cfgErr != nil {
			return nil, 0, 0, apierr.Wrap(apierr.InvalidInput, cfgErr, "unreadable image")
		}
		if cfg.Width < minDimension || cfg.Width > maxDimension || cfg.Height < minDimension || cfg.Height > maxDimension {
			return nil, 0, 0, apierr.New(apierr.InvalidInput, "image dimensions %dx%d out of range [%d,%d]", cfg.Width, cfg.Height, minDimension, maxDimension)
		}
		return raw, cfg.Width, cfg.Height, nil
	}
	return raw, 0, 0, nil
}

func hasSupportedMagic(raw []byte) bool {
	if bytes.HasPrefix(raw, jpegMagic) {
		return true
	}
	if bytes.HasPrefix(raw, pngMagic) {
		return true
	}
	if len(raw) >= 12 && bytes.HasPrefix(raw, riffTag) && bytes.Equal(raw[8:12], webpTag) {
		return true
	}
	return false
}
