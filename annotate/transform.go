package annotate

import "fmt"

const (
	// HighlightOpacity is the fill opacity of highlight rectangles.
	HighlightOpacity = 0.5
	// LineThickness is the width of underlines and signature segments.
	LineThickness = 2.0
)

// StrokePlacement selects which page signature strokes are drawn on.
type StrokePlacement string

const (
	// StrokePlacementCaptured draws each stroke on the page it was drawn on.
	StrokePlacementCaptured StrokePlacement = "captured"
	// StrokePlacementCurrentPage draws every stroke on the page that is
	// current at export time.
	StrokePlacementCurrentPage StrokePlacement = "current_page"
)

// ParseStrokePlacement validates a placement name; empty maps to captured.
func ParseStrokePlacement(value string) (StrokePlacement, error) {
	switch StrokePlacement(value) {
	case "", StrokePlacementCaptured:
		return StrokePlacementCaptured, nil
	case StrokePlacementCurrentPage:
		return StrokePlacementCurrentPage, nil
	default:
		return "", NewError(KindValidation, fmt.Sprintf("unknown stroke placement %q", value), nil)
	}
}

// TransformOptions configures the export transform.
type TransformOptions struct {
	StrokePlacement StrokePlacement
}

// PagePlan is the instruction list for a single page.
type PagePlan struct {
	Page         int               `json:"page"`
	Size         PageSize          `json:"size"`
	Instructions []DrawInstruction `json:"instructions"`
}

// PageInstructions returns the page-space drawing instructions for one page:
// marks in insertion order, then stroke segments in stroke-then-point order.
func PageInstructions(snap Snapshot, page int, size PageSize, opts TransformOptions) []DrawInstruction {
	out := []DrawInstruction{}
	for _, mark := range snap.Marks {
		if mark.Page != page {
			continue
		}
		out = append(out, MarkInstruction(mark, size.Height))
	}
	for _, stroke := range snap.Strokes {
		if !strokeOnPage(stroke, page, snap.CurrentPage, opts.StrokePlacement) {
			continue
		}
		out = append(out, StrokeInstructions(stroke.Points, size.Height)...)
	}
	return out
}

// MarkInstruction flips a mark into PDF space for a page of height h.
// Highlights flip on their bottom edge; underlines use the baseline-adjusted y.
func MarkInstruction(mark Mark, h float64) DrawInstruction {
	if mark.Kind == MarkUnderline {
		y := h - mark.Y
		return Line(mark.X, y, mark.X+mark.Width, y, LineThickness, ColorBlue)
	}
	return FilledRect(mark.X, h-(mark.Y+mark.Height), mark.Width, mark.Height, ColorYellow, HighlightOpacity)
}

// StrokeInstructions chains consecutive points into straight segments.
func StrokeInstructions(points []Point, h float64) []DrawInstruction {
	if len(points) < 2 {
		return nil
	}
	out := make([]DrawInstruction, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		out = append(out, Line(a.X, h-a.Y, b.X, h-b.Y, LineThickness, ColorBlack))
	}
	return out
}

// DocumentInstructions plans every page that receives at least one instruction.
// sizeOf reports the PDF size of a page.
func DocumentInstructions(snap Snapshot, pageCount int, sizeOf func(page int) (PageSize, error), opts TransformOptions) ([]PagePlan, error) {
	plans := []PagePlan{}
	for page := 1; page <= pageCount; page++ {
		size, err := sizeOf(page)
		if err != nil {
			return nil, err
		}
		instructions := PageInstructions(snap, page, size, opts)
		if len(instructions) == 0 {
			continue
		}
		plans = append(plans, PagePlan{Page: page, Size: size, Instructions: instructions})
	}
	return plans, nil
}

func strokeOnPage(stroke Stroke, page, current int, placement StrokePlacement) bool {
	if placement == StrokePlacementCurrentPage {
		return page == current
	}
	return stroke.Page == page
}
