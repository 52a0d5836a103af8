package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSniffPNG(t *testing.T) {
	img, err := Sniff(pngBytes(t, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, "png", img.Ext)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
}

func TestSniffRejects(t *testing.T) {
	_, err := Sniff(nil)
	require.ErrorIs(t, err, ErrNotImage)

	_, err = Sniff([]byte("<html><body>nope</body></html>"))
	require.ErrorIs(t, err, ErrNotImage)

	_, err = Sniff([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`))
	require.ErrorIs(t, err, ErrSVG)
}

func TestDecodeDataURI(t *testing.T) {
	raw := pngBytes(t, 2, 2)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	data, err := DecodeDataURI(uri, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	_, err = DecodeDataURI(uri, 10)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeDataURIRejects(t *testing.T) {
	cases := map[string]error{
		"https://example.com/x.png":             ErrBadDataURI,
		"data:image/png;base64":                 ErrBadDataURI,
		"data:text/html;base64,PGgxPg==":        ErrBadDataURI,
		"data:image/png,rawbytes":               ErrBadDataURI,
		"data:image/svg+xml;base64,PHN2Zz4=":    ErrSVG,
		"data:image/png;base64,!!!notbase64!!!": ErrBadDataURI,
	}
	for uri, want := range cases {
		_, err := DecodeDataURI(uri, 1<<20)
		require.ErrorIs(t, err, want, uri)
	}
	assert.True(t, IsDataURI("DATA:image/png;base64,"))
	assert.False(t, IsDataURI(strings.Repeat("d", 3)))
}
