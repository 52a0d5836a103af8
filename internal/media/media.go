// Package media sniffs and decodes images attached to a link.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/http"
	"strings"

	_ "golang.org/x/image/webp" // register decoder
)

// Sentinel errors for rejected images.
var (
	ErrNotImage   = errors.New("content is not a supported image")
	ErrSVG        = errors.New("svg images are not accepted")
	ErrTooLarge   = errors.New("image exceeds size limit")
	ErrBadDataURI = errors.New("malformed image data uri")
)

// Image is a sniffed raster image.
type Image struct {
	Data   []byte
	MIME   string
	Ext    string
	Width  int
	Height int
}

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Sniff identifies data by its content, not by any declared type. SVG is
// refused because it can carry script.
func Sniff(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrNotImage
	}
	if looksLikeSVG(data) {
		return Image{}, ErrSVG
	}
	mime := http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	ext, ok := extensions[mime]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrNotImage, mime)
	}

	img := Image{Data: data, MIME: mime, Ext: ext}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	return img, nil
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<svg")) || bytes.Contains(lower, []byte("image/svg"))
}

// IsDataURI reports whether s is a data: URI.
func IsDataURI(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

// DecodeDataURI decodes a base64 data:image URI, refusing payloads that
// would exceed maxBytes once decoded.
func DecodeDataURI(uri string, maxBytes int64) ([]byte, error) {
	if !IsDataURI(uri) {
		return nil, ErrBadDataURI
	}
	meta, payload, ok := strings.Cut(uri[5:], ",")
	if !ok {
		return nil, ErrBadDataURI
	}
	meta = strings.ToLower(meta)
	if !strings.HasPrefix(meta, "image/") || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrBadDataURI
	}
	if strings.HasPrefix(meta, "image/svg") {
		return nil, ErrSVG
	}

	payload = strings.TrimSpace(payload)
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+3 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
