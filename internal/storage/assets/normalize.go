package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"golang.org/x/image/draw"

	_ "image/gif" // register decoders for verbatim-format sniffing

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the longest side of a normalized image.
	DefaultMaxDimension = 2048
	// DefaultJPEGQuality is the fixed quality of the canonical encoding.
	DefaultJPEGQuality = 85
)

var errEmptyInput = errors.New("empty asset data")

// Normalized is the result of normalizing raw upload bytes.
type Normalized struct {
	// Hash is the hex SHA-256 of the original bytes. It is computed before
	// any re-encoding, so two uploads dedup only when their raw bytes match.
	Hash string
	// Data is the canonical encoding (or the original bytes on fallback).
	Data []byte
	// Ext is the file extension matching Data, without the dot.
	Ext string
}

// Normalizer converts uploaded bytes into the canonical stored encoding.
//
// The canonical target is JPEG at a fixed quality, downscaled so the longest
// side does not exceed MaxDimension. If JPEG encoding fails the image falls
// back to PNG, and if the bytes cannot be decoded at all they are kept
// verbatim under their sniffed extension. Normalization never loses an asset.
type Normalizer struct {
	MaxDimension int
	JPEGQuality  int
}

// NewNormalizer returns a normalizer with the default bounds.
func NewNormalizer() *Normalizer {
	return &Normalizer{MaxDimension: DefaultMaxDimension, JPEGQuality: DefaultJPEGQuality}
}

// Normalize computes the dedup hash of raw and re-encodes it to the canonical
// format. Only empty input is an error.
func (n *Normalizer) Normalize(raw []byte) (Normalized, error) {
	if len(raw) == 0 {
		return Normalized{}, errEmptyInput
	}
	sum := sha256.Sum256(raw)
	out := Normalized{Hash: hex.EncodeToString(sum[:])}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		// Not a decodable image: keep the original bytes.
		out.Data = raw
		out.Ext = sniffExtension(raw)
		return out, nil
	}

	img = n.scaleDown(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality()}); err == nil {
		out.Data = buf.Bytes()
		out.Ext = "jpg"
		return out, nil
	}
	buf.Reset()
	if err := png.Encode(&buf, img); err == nil {
		out.Data = buf.Bytes()
		out.Ext = "png"
		return out, nil
	}
	// Both encoders failed; keep the original bytes.
	out.Data = raw
	out.Ext = sniffExtension(raw)
	return out, nil
}

func (n *Normalizer) quality() int {
	if n.JPEGQuality <= 0 || n.JPEGQuality > 100 {
		return DefaultJPEGQuality
	}
	return n.JPEGQuality
}

// scaleDown resizes img so its longest side is at most MaxDimension.
// Images already within bounds are returned unchanged; nothing is upscaled.
func (n *Normalizer) scaleDown(img image.Image) image.Image {
	maxDim := n.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// sniffExtension maps the detected media type of raw to a file extension.
// Unknown payloads get "bin".
func sniffExtension(raw []byte) string {
	switch mt := http.DetectContentType(raw); {
	case mt == "image/jpeg":
		return "jpg"
	case mt == "image/png":
		return "png"
	case mt == "image/gif":
		return "gif"
	case mt == "image/webp":
		return "webp"
	case mt == "image/bmp":
		return "bmp"
	}
	if isSVG(raw) {
		return "svg"
	}
	return "bin"
}

// isSVG reports whether raw looks like an SVG document.
// http.DetectContentType has no SVG signature, so check for the root element
// directly, allowing an XML declaration before it.
func isSVG(raw []byte) bool {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	s := strings.TrimSpace(string(head))
	if strings.HasPrefix(s, "<svg") {
		return true
	}
	return strings.HasPrefix(s, "<?xml") && strings.Contains(s, "<svg")
}
