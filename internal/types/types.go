package types

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// Frame is a single captured video frame. It must not be modified once published;
// consumers that need to draw on it work on a copy.
type Frame struct {
	Image      image.Image
	Data       []byte // Source JPEG bytes, if the frame arrived encoded
	Width      int
	Height     int
	Channels   int
	CapturedAt time.Time
	Seq        uint64
}

// NewFrame wraps a decoded image. data may be nil.
func NewFrame(img image.Image, data []byte, seq uint64) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:      img,
		Data:       data,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Channels:   3,
		CapturedAt: time.Now(),
		Seq:        seq,
	}
}

// JPEG returns the frame as JPEG bytes, re-encoding only when the frame did not arrive encoded.
func (f *Frame) JPEG() ([]byte, error) {
	if len(f.Data) > 0 {
		return f.Data, nil
	}
	if f.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", f.Seq)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	return buf.Bytes(), nil
}

// Box is a face bounding box in pixel coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Face is one detected face.
type Face struct {
	Box      Box    `json:"box"`
	Emotions Scores `json:"emotions"`
	// EyesVisible reports whether the detector returned an eye-region signal for this face.
	EyesVisible bool `json:"eyes_visible"`
}

// DetectionResult holds the faces found in one frame. Empty means no face was detected.
// A published result is shared between goroutines and must be treated as read-only.
type DetectionResult []Face

// First returns the first face, if any.
func (r DetectionResult) First() (Face, bool) {
	if len(r) == 0 {
		return Face{}, false
	}
	return r[0], true
}

// ScoreWindow summarizes one closed rolling window of the deception scorer.
type ScoreWindow struct {
	ClosedAt        time.Time `json:"closed_at"`
	Score           float64   `json:"score"`
	EmotionChanges  int       `json:"emotion_changes"`
	Microexpression float64   `json:"microexpression"`
	GazeAversion    float64   `json:"gaze_aversion"`
	Dominant        Emotion   `json:"dominant_emotion"`
	Emotions        Scores    `json:"emotions"`
}

// ErrorResult captures the error object returned by a detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}
