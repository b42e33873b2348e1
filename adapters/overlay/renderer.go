package overlaycairo

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/novvoo/go-cairo/pkg/cairo"
)

// MaxDimension bounds the rendered surface in pixels per side.
const MaxDimension = 8192

var _ annotate.OverlayRenderer = (*Renderer)(nil)

// Renderer draws annotation overlays on a transparent cairo image surface.
type Renderer struct {
	MaxDimension int
}

// NewRenderer creates an overlay renderer.
func NewRenderer() *Renderer {
	return &Renderer{MaxDimension: MaxDimension}
}

// RenderOverlay paints marks and strokes in screen space and encodes PNG.
// The surface is rebuilt on every call.
func (r *Renderer) RenderOverlay(ctx context.Context, spec annotate.OverlaySpec, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := r.Render(spec)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Render paints the overlay into an image.
func (r *Renderer) Render(spec annotate.OverlaySpec) (*image.NRGBA, error) {
	scale := spec.Scale
	if scale <= 0 {
		scale = 1
	}
	width := int(math.Ceil(spec.Width * scale))
	height := int(math.Ceil(spec.Height * scale))
	limit := r.MaxDimension
	if limit <= 0 {
		limit = MaxDimension
	}
	if width <= 0 || height <= 0 || width > limit || height > limit {
		return nil, annotate.NewError(annotate.KindValidation, fmt.Sprintf("overlay size %dx%d out of range", width, height), nil)
	}

	surface := cairo.NewImageSurface(cairo.FormatARGB32, width, height)
	defer surface.Destroy()
	imgSurf, ok := surface.(cairo.ImageSurface)
	if !ok {
		return nil, fmt.Errorf("overlay: failed to create image surface")
	}

	cr := cairo.NewContext(surface)
	defer cr.Destroy()
	cr.Scale(scale, scale)

	for _, mark := range spec.Marks {
		drawMark(cr, mark)
	}
	for _, stroke := range spec.Strokes {
		drawStroke(cr, stroke.Points)
	}

	return toNRGBA(imgSurf.GetGoImage(), width, height), nil
}

func drawMark(cr cairo.Context, mark annotate.Mark) {
	cr.Save()
	defer cr.Restore()

	switch mark.Kind {
	case annotate.MarkUnderline:
		c := annotate.ColorBlue
		cr.SetSourceRGB(c.R, c.G, c.B)
		cr.SetLineWidth(annotate.LineThickness)
		cr.MoveTo(mark.X, mark.Y)
		cr.LineTo(mark.X+mark.Width, mark.Y)
		cr.Stroke()
	default:
		c := annotate.ColorYellow
		cr.SetSourceRGBA(c.R, c.G, c.B, annotate.HighlightOpacity)
		cr.Rectangle(mark.X, mark.Y, mark.Width, mark.Height)
		cr.Fill()
	}
}

func drawStroke(cr cairo.Context, points []annotate.Point) {
	if len(points) < 2 {
		return
	}
	cr.Save()
	defer cr.Restore()

	c := annotate.ColorBlack
	cr.SetSourceRGB(c.R, c.G, c.B)
	cr.SetLineWidth(annotate.LineThickness)
	cr.SetLineCap(cairo.LineCapRound)
	cr.SetLineJoin(cairo.LineJoinRound)
	cr.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		cr.LineTo(p.X, p.Y)
	}
	cr.Stroke()
}

// toNRGBA copies the surface image out before the surface is destroyed.
func toNRGBA(src image.Image, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if src != nil {
		draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)
	}
	return img
}
