package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"testing/iotest"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00}
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...)

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegAcrossReads(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0x10, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x20, 0x21, 0xFF, 0xD9}
	stream := append(append([]byte{0x42}, a...), b...)

	// One byte per Read forces markers to straddle buffer refills.
	scanner := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(stream)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, bytes.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Expected two frames %X %X, got %X", a, b, got)
	}
}

func TestNewFFmpegCaptureCmd(t *testing.T) {
	tests := []struct {
		name    string
		opts    CaptureOptions
		want    []string
		notWant []string
	}{
		{
			name:    "webcam",
			opts:    CaptureOptions{Input: "/dev/video0", Format: "v4l2"},
			want:    []string{"-f", "v4l2", "-i", "/dev/video0", "image2pipe", "mjpeg"},
			notWant: []string{"-re", "-stream_loop"},
		},
		{
			name: "looping file at native rate",
			opts: CaptureOptions{Input: "clip.mp4", Realtime: true, Loop: true, FPS: 15},
			want: []string{"-re", "-stream_loop", "-1", "-i", "clip.mp4", "-r", "15"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewFFmpegCaptureCmd(context.Background(), tt.opts)
			for _, w := range tt.want {
				if !slices.Contains(cmd.Args, w) {
					t.Errorf("args %v missing %q", cmd.Args, w)
				}
			}
			for _, w := range tt.notWant {
				if slices.Contains(cmd.Args, w) {
					t.Errorf("args %v should not contain %q", cmd.Args, w)
				}
			}
			if cmd.Args[len(cmd.Args)-1] != "-" {
				t.Errorf("Expected output to stdout, got %v", cmd.Args)
			}
			if cmd.Stderr == nil || cmd.Cmd.Stderr != cmd.Stderr {
				t.Error("Stderr not captured")
			}
		})
	}
}

func TestGenerateSourceID(t *testing.T) {
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id := GenerateSourceID(tmp.Name())
	if id == "" {
		t.Fatal("empty id")
	}

	// Verify Determinism
	if id2 := GenerateSourceID(tmp.Name()); id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	if id3 := GenerateSourceID(tmp.Name()); id == id3 {
		t.Error("Hash did not change after file modification")
	}

	// Devices and URLs hash by name.
	if GenerateSourceID("/dev/video0") != GenerateSourceID("/dev/video0") {
		t.Error("Device id is not deterministic")
	}
	if GenerateSourceID("rtsp://cam/1") == GenerateSourceID("rtsp://cam/2") {
		t.Error("Different URLs produced the same id")
	}
}

func TestShowErrorDoesNotExit(t *testing.T) {
	s := NewSafeCommand("true")
	s.Stderr.WriteString("Traceback: boom")
	// Reaching the next line is the assertion.
	ShowError("testing", errors.New("failure"), s)
	ShowError("testing", nil, nil)
}
