package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http/httptest"
	"testing"
)

func TestWritePartFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	if err := w.WritePart([]byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}
	if err := w.WritePart([]byte{0xFF, 0xD8, 0xFF, 0xD9}); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	want := "--frame\r\nContent-Type: image/jpeg\r\n\r\n\xFF\xD8\xAA\xFF\xD9\r\n" +
		"--frame\r\nContent-Type: image/jpeg\r\n\r\n\xFF\xD8\xFF\xD9\r\n"
	if got := buf.String(); got != want {
		t.Errorf("stream bytes = %q, want %q", got, want)
	}
	if w.Parts() != 2 {
		t.Errorf("Parts() = %d, want 2", w.Parts())
	}
}

func TestWriteImageIsDecodable(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec, 90)

	if err := w.WriteImage(image.NewRGBA(image.Rect(0, 0, 32, 24))); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}
	if !rec.Flushed {
		t.Error("Expected the part to be flushed")
	}

	body := rec.Body.Bytes()
	header := []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	if !bytes.HasPrefix(body, header) || !bytes.HasSuffix(body, []byte("\r\n")) {
		t.Fatalf("Malformed part: %q", body[:min(len(body), 64)])
	}
	payload := body[len(header) : len(body)-2]
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Part payload is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("Decoded size %v, want 32x24", img.Bounds())
	}
}

func TestContentType(t *testing.T) {
	if ContentType != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("ContentType = %q", ContentType)
	}
}
