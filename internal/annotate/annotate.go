// Package annotate draws detection results onto frames for display.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/andresmejia3/truthlens/internal/types"
)

var (
	// Green marks a face with no anger alert.
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	// Red marks a face whose angry confidence crossed types.AngerThreshold.
	Red = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

const (
	lineWidth    = 2
	fontSize     = 16
	labelOffset  = 10
	markerOffset = 30
	markerRadius = 10
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Label returns the text and color drawn for a face, and whether the anger marker is shown.
func Label(face types.Face) (text string, c color.RGBA, alert bool) {
	emotion := face.Emotions.Displayed()
	c = Green
	if emotion == types.Angry {
		c = Red
		alert = true
	}
	return fmt.Sprintf("%s: %.2f", emotion, face.Emotions[emotion]), c, alert
}

// Annotate returns a copy of the frame with a box, label and optional anger marker for every face.
// The input frame is never modified.
func Annotate(frame *types.Frame, result types.DetectionResult) image.Image {
	dc := gg.NewContextForImage(frame.Image)
	if len(result) == 0 {
		return dc.Image()
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, face := range result {
		text, c, alert := Label(face)
		r := face.Box.Rect()

		DrawRectangleEmpty(dc, r, c, lineWidth)

		// Baseline anchored like a putText call: the label sits just above the box.
		dc.SetColor(c)
		dc.DrawString(text, float64(r.Min.X), float64(r.Min.Y-labelOffset))

		if alert {
			dc.SetColor(Red)
			dc.DrawCircle(float64(r.Min.X+r.Dx()/2), float64(r.Min.Y-markerOffset), markerRadius)
			dc.Fill()
		}
	}
	return dc.Image()
}

// DrawRectangleEmpty strokes the outline of r.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}
