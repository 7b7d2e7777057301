package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/truthlens/internal/types"
)

// FrameSource supplies frames until it returns an error.
type FrameSource interface {
	Next(ctx context.Context) (*types.Frame, error)
}

// FrameEncoder emits one annotated frame to a consumer.
type FrameEncoder interface {
	WriteImage(img image.Image) error
}

// AnnotateFunc draws a detection result onto a copy of a frame.
type AnnotateFunc func(frame *types.Frame, result types.DetectionResult) image.Image

// Stream runs the capture loop for one consumer: publish each frame to State, overlay the
// most recent detection result (which may lag behind the frame) and encode it.
//
// It returns the number of frames emitted. Source exhaustion ends the loop with a nil
// error; encoder failures and context cancellation are returned.
func Stream(ctx context.Context, src FrameSource, state *State, annotate AnnotateFunc, enc FrameEncoder) (int, error) {
	emitted := 0
	for {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return emitted, ctxErr
			}
			return emitted, nil
		}

		state.PublishFrame(frame)

		result, _ := state.Result()
		out := annotate(frame, result)

		if err := enc.WriteImage(out); err != nil {
			return emitted, fmt.Errorf("failed to write frame %d: %w", frame.Seq, err)
		}
		emitted++
	}
}

// StreamLockstep is Stream with detection inlined: every frame is detected before it is
// annotated, so the overlay never lags and scoring sees every frame. Used for offline replay.
func StreamLockstep(ctx context.Context, src FrameSource, w *Worker, annotate AnnotateFunc, enc FrameEncoder) (int, error) {
	emitted := 0
	for {
		if err := ctx.Err(); err != nil {
			return emitted, err
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return emitted, ctxErr
			}
			return emitted, nil
		}

		w.state.PublishFrame(frame)
		w.Step(ctx)

		result, _ := w.state.Result()
		if err := enc.WriteImage(annotate(frame, result)); err != nil {
			return emitted, fmt.Errorf("failed to write frame %d: %w", frame.Seq, err)
		}
		emitted++
	}
}
