package stream

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"hazardwatch/internal/pipeline"
)

var (
	colorCandidate = color.RGBA{255, 0, 0, 255}
	colorOther     = color.RGBA{255, 200, 0, 255}
	colorFall      = color.RGBA{255, 120, 0, 255}
)

// Overlay draws detection boxes and candidate banners onto frames
type Overlay struct {
	tuning        *pipeline.TuningStore
	minConfidence float32
}

var _ pipeline.Annotator = (*Overlay)(nil)

// NewOverlay creates an annotator. Detections scoring below minConfidence
// are not drawn. The monitored class is taken from tuning on every frame.
func NewOverlay(tuning *pipeline.TuningStore, minConfidence float32) *Overlay {
	return &Overlay{tuning: tuning, minConfidence: minConfidence}
}

// Annotate returns a copy of frame with overlays drawn. The input frame is
// not modified. Frames without a decoded image are returned as is.
func (o *Overlay) Annotate(frame *pipeline.Frame, result *pipeline.DetectionResult, flags pipeline.Flags) *pipeline.Frame {
	if frame == nil || frame.Image == nil {
		return frame
	}

	bounds := frame.Image.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, frame.Image, bounds.Min, draw.Src)

	monitored := -1
	if o.tuning != nil {
		monitored = o.tuning.Load().MonitoredClassID
	}

	if result != nil {
		for _, det := range result.Detections {
			if det.Confidence < o.minConfidence {
				continue
			}
			c := colorOther
			if det.ClassID == monitored {
				c = colorCandidate
			}
			x, y := int(det.BBox.X1)+bounds.Min.X, int(det.BBox.Y1)+bounds.Min.Y
			w, h := int(det.BBox.X2-det.BBox.X1), int(det.BBox.Y2-det.BBox.Y1)
			drawBox(rgba, x, y, w, h, c, 2)
			drawLabel(rgba, x, y-15, fmt.Sprintf("%s %.0f%%", det.Class, det.Confidence*100), c)
		}
	}

	bannerY := bounds.Min.Y + 2
	if flags.Primary {
		drawLabel(rgba, bounds.Min.X+2, bannerY, "DETECTOR CANDIDATE", colorCandidate)
		bannerY += 16
	}
	if flags.Heuristic {
		drawLabel(rgba, bounds.Min.X+2, bannerY, "FALL CANDIDATE", colorFall)
	}

	return &pipeline.Frame{Seq: frame.Seq, Timestamp: frame.Timestamp, Image: rgba}
}

// drawBox draws a rectangle outline clipped to the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	b := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(b) {
			img.SetRGBA(px, py, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for i := x; i <= x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j <= y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

// drawLabel draws text on a dark background with its top-left at x, y
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	b := img.Bounds()
	if y < b.Min.Y {
		y = b.Min.Y
	}
	if x < b.Min.X {
		x = b.Min.X
	}

	bg := image.Rect(x-2, y-2, x+len(label)*7+2, y+14).Intersect(b)
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
