package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// encodePNG returns a w x h PNG with a simple gradient so JPEG encoding has
// something to compress.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode error: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer()

	t.Run("empty input", func(t *testing.T) {
		if _, err := n.Normalize(nil); err == nil {
			t.Error("expected error for empty input")
		}
	})

	t.Run("hash is of the original bytes", func(t *testing.T) {
		raw := encodePNG(t, 8, 8)
		out, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		sum := sha256.Sum256(raw)
		if want := hex.EncodeToString(sum[:]); out.Hash != want {
			t.Errorf("Hash = %s, want %s", out.Hash, want)
		}
		// The payload was re-encoded, so the stored bytes differ from the
		// hashed bytes.
		if bytes.Equal(out.Data, raw) {
			t.Error("expected re-encoded data to differ from input")
		}
	})

	t.Run("image becomes canonical jpeg", func(t *testing.T) {
		out, err := n.Normalize(encodePNG(t, 16, 16))
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		if out.Ext != "jpg" {
			t.Errorf("Ext = %q, want %q", out.Ext, "jpg")
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
		if err != nil {
			t.Fatalf("DecodeConfig error: %v", err)
		}
		if format != "jpeg" {
			t.Errorf("format = %q, want jpeg", format)
		}
		if cfg.Width != 16 || cfg.Height != 16 {
			t.Errorf("dimensions = %dx%d, want 16x16", cfg.Width, cfg.Height)
		}
	})

	t.Run("oversized image is scaled down", func(t *testing.T) {
		bounded := &Normalizer{MaxDimension: 32, JPEGQuality: 85}
		out, err := bounded.Normalize(encodePNG(t, 128, 64))
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
		if err != nil {
			t.Fatalf("DecodeConfig error: %v", err)
		}
		if cfg.Width != 32 || cfg.Height != 16 {
			t.Errorf("dimensions = %dx%d, want 32x16", cfg.Width, cfg.Height)
		}
	})

	t.Run("small image is not upscaled", func(t *testing.T) {
		out, err := n.Normalize(encodePNG(t, 10, 10))
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
		if err != nil {
			t.Fatalf("DecodeConfig error: %v", err)
		}
		if cfg.Width != 10 || cfg.Height != 10 {
			t.Errorf("dimensions = %dx%d, want 10x10", cfg.Width, cfg.Height)
		}
	})

	t.Run("non-image kept verbatim", func(t *testing.T) {
		raw := []byte("not an image at all, just text")
		out, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		if !bytes.Equal(out.Data, raw) {
			t.Error("verbatim fallback modified the data")
		}
		if out.Ext != "bin" {
			t.Errorf("Ext = %q, want %q", out.Ext, "bin")
		}
	})
}

func TestSniffExtension(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare svg root", `<svg xmlns="http://www.w3.org/2000/svg"><rect/></svg>`, "svg"},
		{"xml declaration", "<?xml version=\"1.0\"?>\n<svg xmlns=\"http://www.w3.org/2000/svg\"/>", "svg"},
		{"leading whitespace", "\n\t <svg/>", "svg"},
		{"xml but not svg", `<?xml version="1.0"?><note>hi</note>`, "bin"},
		{"plain text", "just some text", "bin"},
		{"html mentioning svg", "<html><body>an <svg> tag</body></html>", "bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffExtension([]byte(tt.raw)); got != tt.want {
				t.Errorf("sniffExtension = %q, want %q", got, tt.want)
			}
		})
	}
}
