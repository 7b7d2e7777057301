package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/andresmejia3/truthlens/internal/types"
)

type sliceSource struct {
	frames []*types.Frame
	i      int
}

func (s *sliceSource) Next(ctx context.Context) (*types.Frame, error) {
	if s.i >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

type countingEncoder struct {
	n    int
	fail int
}

func (e *countingEncoder) WriteImage(img image.Image) error {
	if e.fail > 0 && e.n+1 == e.fail {
		return errors.New("client went away")
	}
	e.n++
	return nil
}

func TestStreamPublishesAndAnnotates(t *testing.T) {
	src := &sliceSource{frames: []*types.Frame{testFrame(1), testFrame(2), testFrame(3)}}
	s := NewState()
	s.PublishFrame(testFrame(0))
	s.TryBeginDetection()
	stale := types.DetectionResult{{Box: types.Box{X: 1, Y: 2, Width: 3, Height: 4}}}
	s.EndDetection(stale)

	var seen []types.DetectionResult
	annotate := func(f *types.Frame, r types.DetectionResult) image.Image {
		seen = append(seen, r)
		return f.Image
	}
	enc := &countingEncoder{}

	n, err := Stream(context.Background(), src, s, annotate, enc)
	if err != nil {
		t.Fatalf("Stream returned %v", err)
	}
	if n != 3 || enc.n != 3 {
		t.Errorf("Expected 3 frames emitted, got %d (encoder %d)", n, enc.n)
	}
	if s.Frame().Seq != 3 {
		t.Errorf("Latest frame seq = %d, want 3", s.Frame().Seq)
	}
	// The overlay uses the most recent result even though it belongs to an older frame.
	for i, r := range seen {
		if len(r) != 1 || r[0].Box != stale[0].Box {
			t.Errorf("frame %d annotated with %+v", i, r)
		}
	}
}

func TestStreamEncoderError(t *testing.T) {
	src := &sliceSource{frames: []*types.Frame{testFrame(1), testFrame(2), testFrame(3)}}
	enc := &countingEncoder{fail: 2}
	annotate := func(f *types.Frame, _ types.DetectionResult) image.Image { return f.Image }

	n, err := Stream(context.Background(), src, NewState(), annotate, enc)
	if err == nil {
		t.Fatal("Expected encoder error")
	}
	if n != 1 {
		t.Errorf("Expected 1 frame before failure, got %d", n)
	}
}

func TestStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceSource{frames: []*types.Frame{testFrame(1)}}
	annotate := func(f *types.Frame, _ types.DetectionResult) image.Image { return f.Image }

	_, err := Stream(ctx, src, NewState(), annotate, &countingEncoder{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStreamLockstepDetectsEveryFrame(t *testing.T) {
	frames := make([]*types.Frame, 5)
	for i := range frames {
		frames[i] = testFrame(uint64(i + 1))
	}
	d := &seqDetector{}
	obs := &recordingObserver{}
	s := NewState()
	w := NewWorker(s, d, obs, WithLogger(quietLogger))

	var annotated []int
	annotate := func(f *types.Frame, r types.DetectionResult) image.Image {
		annotated = append(annotated, r[0].Box.X)
		return f.Image
	}

	n, err := StreamLockstep(context.Background(), &sliceSource{frames: frames}, w, annotate, &countingEncoder{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || obs.count() != 5 {
		t.Errorf("Expected 5 frames emitted and observed, got %d and %d", n, obs.count())
	}
	// Each overlay carries the result for its own frame.
	for i, x := range annotated {
		if x != i+1 {
			t.Errorf("frame %d annotated with result for seq %d", i+1, x)
		}
	}
}

// seqDetector returns a face whose X is the frame sequence number.
type seqDetector struct{}

func (seqDetector) Detect(ctx context.Context, f *types.Frame) (types.DetectionResult, error) {
	return types.DetectionResult{{Box: types.Box{X: int(f.Seq)}}}, nil
}
