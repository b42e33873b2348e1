package annotate

import (
	"context"
	"io"
	"time"
)

// Point is a page-relative screen position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a viewport rectangle as reported by the client (DOMRect).
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle carries no area in either direction.
func (r Rect) Empty() bool {
	return r.Width <= 0 && r.Height <= 0
}

// MarkKind identifies the mark style.
type MarkKind string

const (
	MarkHighlight MarkKind = "highlight"
	MarkUnderline MarkKind = "underline"
)

// Valid reports whether the kind is known.
func (k MarkKind) Valid() bool {
	return k == MarkHighlight || k == MarkUnderline
}

// Mark is a highlight or underline anchored to one page, in screen space
// relative to the page container at capture time.
type Mark struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Kind   MarkKind `json:"kind"`
	Page   int      `json:"page"`
}

// Stroke is one continuous freehand drag. Page is the page that was current
// when the drag started.
type Stroke struct {
	Page   int     `json:"page"`
	Points []Point `json:"points"`
}

func (s Stroke) clone() Stroke {
	out := Stroke{Page: s.Page, Points: make([]Point, len(s.Points))}
	copy(out.Points, s.Points)
	return out
}

// PageSize is a PDF page size in points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Color is an RGB color with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

var (
	ColorYellow = Color{R: 1, G: 1, B: 0}
	ColorBlue   = Color{R: 0, G: 0, B: 1}
	ColorBlack  = Color{R: 0, G: 0, B: 0}
)

// InstructionOp names a drawing primitive.
type InstructionOp string

const (
	OpFilledRect InstructionOp = "filled_rect"
	OpLine       InstructionOp = "line"
)

// DrawInstruction is one page-space drawing primitive. FilledRect uses
// X/Y/Width/Height and Opacity; Line uses X1/Y1/X2/Y2 and Thickness.
type DrawInstruction struct {
	Op        InstructionOp `json:"op"`
	X         float64       `json:"x,omitempty"`
	Y         float64       `json:"y,omitempty"`
	Width     float64       `json:"width,omitempty"`
	Height    float64       `json:"height,omitempty"`
	X1        float64       `json:"x1,omitempty"`
	Y1        float64       `json:"y1,omitempty"`
	X2        float64       `json:"x2,omitempty"`
	Y2        float64       `json:"y2,omitempty"`
	Thickness float64       `json:"thickness,omitempty"`
	Color     Color         `json:"color"`
	Opacity   float64       `json:"opacity"`
}

// FilledRect builds a filled rectangle instruction.
func FilledRect(x, y, width, height float64, color Color, opacity float64) DrawInstruction {
	return DrawInstruction{
		Op:      OpFilledRect,
		X:       x,
		Y:       y,
		Width:   width,
		Height:  height,
		Color:   color,
		Opacity: opacity,
	}
}

// Line builds a fully opaque line instruction.
func Line(x1, y1, x2, y2, thickness float64, color Color) DrawInstruction {
	return DrawInstruction{
		Op:        OpLine,
		X1:        x1,
		Y1:        y1,
		X2:        x2,
		Y2:        y2,
		Thickness: thickness,
		Color:     color,
		Opacity:   1,
	}
}

// DocumentEditor loads PDF bytes into an editable document.
type DocumentEditor interface {
	Load(ctx context.Context, data []byte) (EditableDocument, error)
}

// EditableDocument is an in-memory PDF scoped to a single export call.
type EditableDocument interface {
	PageCount() int
	PageSize(page int) (PageSize, error)
	Apply(page int, instructions []DrawInstruction) error
	Save(w io.Writer) error
	Close() error
}

// DocumentInfo describes a loaded document.
type DocumentInfo struct {
	PageCount int
	Pages     []PageSize
}

// PageInspector reports page count and sizes for a document.
type PageInspector interface {
	Inspect(ctx context.Context, data []byte) (DocumentInfo, error)
}

// OverlaySpec describes one page overlay in screen space.
type OverlaySpec struct {
	Width   float64
	Height  float64
	Scale   float64
	Marks   []Mark
	Strokes []Stroke
}

// OverlayRenderer draws marks and strokes onto a transparent surface.
type OverlayRenderer interface {
	RenderOverlay(ctx context.Context, spec OverlaySpec, w io.Writer) error
}

// ArtifactMeta captures stored artifact metadata.
type ArtifactMeta struct {
	ContentType string
	Size        int64
	Filename    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ArtifactRef references a stored artifact.
type ArtifactRef struct {
	Key  string
	Meta ArtifactMeta
}

// ArtifactStore stores exported documents.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, ArtifactMeta, error)
	Delete(ctx context.Context, key string) error
}

// ExportState captures export lifecycle states.
type ExportState string

const (
	StateRunning   ExportState = "running"
	StateCompleted ExportState = "completed"
	StateFailed    ExportState = "failed"
	StateDiscarded ExportState = "discarded"
)

// ExportRecord is the history entry for one export call.
type ExportRecord struct {
	ID           string
	SessionID    string
	Filename     string
	State        ExportState
	Pages        int
	Marks        int
	Strokes      int
	Instructions int
	BytesWritten int64
	Error        string
	Artifact     ArtifactRef
	CreatedAt    time.Time
	CompletedAt  time.Time
	ExpiresAt    time.Time
}

// ExportFilter filters tracker lists.
type ExportFilter struct {
	SessionID string
	State     ExportState
	Since     time.Time
	Until     time.Time
}

// Tracker records export history.
type Tracker interface {
	Start(ctx context.Context, record ExportRecord) (string, error)
	Complete(ctx context.Context, id string, update ExportRecord) error
	Fail(ctx context.Context, id string, state ExportState, err error) error
	Status(ctx context.Context, id string) (ExportRecord, error)
	List(ctx context.Context, filter ExportFilter) ([]ExportRecord, error)
}

// RecordDeleter removes records from the tracker.
type RecordDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Logger provides logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger discards log output.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
