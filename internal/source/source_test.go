package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/truthlens/internal/mjpeg"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamDecodesFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01})
	stream.Write(encodeJPEG(t, 16, 8))
	stream.Write([]byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}) // truncated, undecodable
	stream.Write(encodeJPEG(t, 32, 24))

	s := NewStream(io.NopCloser(&stream))
	defer s.Close()
	ctx := context.Background()

	f1, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if f1.Width != 16 || f1.Height != 8 || f1.Seq != 1 {
		t.Errorf("first frame = %dx%d seq %d", f1.Width, f1.Height, f1.Seq)
	}
	if len(f1.Data) == 0 {
		t.Error("frame should keep its source JPEG bytes")
	}

	f2, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if f2.Width != 32 || f2.Seq != 2 {
		t.Errorf("second frame = %dx%d seq %d", f2.Width, f2.Height, f2.Seq)
	}
	if s.Corrupt() != 1 {
		t.Errorf("Corrupt() = %d, want 1", s.Corrupt())
	}

	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestStreamClosed(t *testing.T) {
	s := NewStream(io.NopCloser(bytes.NewReader(encodeJPEG(t, 4, 4))))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestStillRepeatsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}
	s, err := NewStill(buf.Bytes(), 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	start := time.Now()
	for i := 1; i <= 3; i++ {
		f, err := s.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("seq = %d, want %d", f.Seq, i)
		}
		if f.Data != nil {
			t.Error("PNG input should not be passed through as JPEG data")
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 frames at 20ms took only %v", elapsed)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Next(cctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	s.Close()
	if _, err := s.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestNewStillRejectsGarbage(t *testing.T) {
	if _, err := NewStill([]byte("not an image"), time.Second); err == nil {
		t.Error("Expected decode error")
	}
}

func TestOpenURL(t *testing.T) {
	frame := encodeJPEG(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", mjpeg.ContentType)
		mw := mjpeg.NewWriter(w, 0)
		for i := 0; i < 3; i++ {
			mw.WritePart(frame)
		}
	}))
	defer srv.Close()

	s, err := OpenURL(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	n := 0
	for {
		_, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("Expected 3 frames from the multipart body, got %d", n)
	}
}

func TestOpenURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := OpenURL(context.Background(), nil, srv.URL); err == nil {
		t.Error("Expected error for 404")
	}
}

func TestNewOpener(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "face.jpg")
	if err := os.WriteFile(imgPath, encodeJPEG(t, 12, 12), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("still image", func(t *testing.T) {
		open, err := NewOpener(Config{Image: imgPath, Input: "/dev/video0"})
		if err != nil {
			t.Fatal(err)
		}
		src, err := open(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer src.Close()
		if _, ok := src.(*Still); !ok {
			t.Errorf("Expected *Still, got %T", src)
		}
		f, err := src.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(f.Data) == 0 {
			t.Error("JPEG still should keep its bytes")
		}
	})

	t.Run("no input", func(t *testing.T) {
		if _, err := NewOpener(Config{}); err == nil {
			t.Error("Expected error without input")
		}
	})

	t.Run("describe", func(t *testing.T) {
		if got := (Config{Input: "/dev/video0", Format: "v4l2"}).Describe(); got != "v4l2 /dev/video0" {
			t.Errorf("Describe() = %q", got)
		}
	})
}
