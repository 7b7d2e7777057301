// Package mjpeg writes multipart/x-mixed-replace JPEG streams.
package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sync"
)

// Boundary separates the parts of the stream.
const Boundary = "frame"

// ContentType is the response content type for a stream written by Writer.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Writer emits one JPEG part per frame. It is not safe for concurrent use.
type Writer struct {
	w       io.Writer
	quality int
	parts   int
}

// NewWriter returns a Writer encoding at the given JPEG quality (1-100).
func NewWriter(w io.Writer, quality int) *Writer {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Writer{w: w, quality: quality}
}

// WriteImage JPEG-encodes img and writes it as one part.
func (mw *Writer) WriteImage(img image.Image) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: mw.quality}); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return mw.WritePart(buf.Bytes())
}

// WritePart writes already-encoded JPEG bytes as one part and flushes if the
// underlying writer supports it.
func (mw *Writer) WritePart(jpegData []byte) error {
	if _, err := fmt.Fprintf(mw.w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := mw.w.Write(jpegData); err != nil {
		return err
	}
	if _, err := io.WriteString(mw.w, "\r\n"); err != nil {
		return err
	}
	if f, ok := mw.w.(http.Flusher); ok {
		f.Flush()
	}
	mw.parts++
	return nil
}

// Parts returns the number of parts written.
func (mw *Writer) Parts() int { return mw.parts }
