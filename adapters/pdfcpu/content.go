package pdfcpuedit

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/color"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/draw"
)

// overlayContent encodes draw instructions as a PDF content stream fragment.
// origin translates page-space coordinates onto the MediaBox lower-left
// corner. gsName resolves the ExtGState resource for a given opacity.
func overlayContent(instructions []annotate.DrawInstruction, originX, originY float64, gsName func(opacity float64) string) (string, error) {
	var b strings.Builder
	b.WriteString("q\n")
	if originX != 0 || originY != 0 {
		fmt.Fprintf(&b, "1 0 0 1 %s %s cm\n", num(originX), num(originY))
	}
	for i, instr := range instructions {
		b.WriteString("q\n")
		if instr.Opacity > 0 && instr.Opacity < 1 {
			fmt.Fprintf(&b, "/%s gs\n", gsName(instr.Opacity))
		}
		switch instr.Op {
		case annotate.OpFilledRect:
			// draw.FillRectNoBorder also strokes the outline, which doubles
			// the alpha along the edge of a translucent highlight.
			draw.SetFillColor(&b, simpleColor(instr.Color))
			fmt.Fprintf(&b, "%.2f %.2f %.2f %.2f re f ", instr.X, instr.Y, instr.Width, instr.Height)
		case annotate.OpLine:
			stroke := simpleColor(instr.Color)
			draw.DrawLine(&b, instr.X1, instr.Y1, instr.X2, instr.Y2, instr.Thickness, &stroke, nil)
		default:
			return "", fmt.Errorf("instruction %d: unsupported op %q", i, instr.Op)
		}
		b.WriteString("\nQ\n")
	}
	b.WriteString("Q\n")
	return b.String(), nil
}

func simpleColor(c annotate.Color) color.SimpleColor {
	return color.SimpleColor{R: float32(c.R), G: float32(c.G), B: float32(c.B)}
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	v = math.Round(v*10000) / 10000
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func gsResourceName(opacity float64) string {
	return fmt.Sprintf("AnnotGS%03d", int(math.Round(opacity*100)))
}
