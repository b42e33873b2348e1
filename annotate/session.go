package annotate

import (
	"fmt"
	"time"
)

// Document is the file owned by a session.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
	Pages       []PageSize
}

// PageSize returns the size of a 1-based page, or false when unknown.
func (d Document) PageSize(page int) (PageSize, bool) {
	if page < 1 || page > len(d.Pages) {
		return PageSize{}, false
	}
	return d.Pages[page-1], true
}

type selection struct {
	sel  Rect
	page Rect
}

// Session is the in-memory state for one loaded document. Session methods
// are synchronous and do no I/O; callers serialize access.
type Session struct {
	ID          string
	Document    Document
	CurrentPage int
	PageCount   int
	Marks       []Mark
	Strokes     []Stroke
	Signing     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	selection *selection
	drawing   bool
	pageRect  Rect
}

// NewSession creates a session positioned on the first page.
func NewSession(id string, doc Document, pageCount int, now time.Time) *Session {
	if pageCount < 1 {
		pageCount = 1
	}
	return &Session{
		ID:          id,
		Document:    doc,
		CurrentPage: 1,
		PageCount:   pageCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Drawing reports whether a stroke is being captured.
func (s *Session) Drawing() bool {
	return s.drawing
}

// HasSelection reports whether a text selection is pending capture.
func (s *Session) HasSelection() bool {
	return s.selection != nil
}

// NextPage moves forward, clamped to the last page.
func (s *Session) NextPage() int {
	if s.CurrentPage < s.PageCount {
		s.CurrentPage++
	}
	return s.CurrentPage
}

// PrevPage moves back, clamped to the first page.
func (s *Session) PrevPage() int {
	if s.CurrentPage > 1 {
		s.CurrentPage--
	}
	return s.CurrentPage
}

// GoToPage jumps to a page in [1, PageCount].
func (s *Session) GoToPage(page int) error {
	if page < 1 || page > s.PageCount {
		return NewError(KindValidation, fmt.Sprintf("page %d out of range [1, %d]", page, s.PageCount), nil)
	}
	s.CurrentPage = page
	return nil
}

// Select records the active text selection and the page container rect.
// An empty selection clears any pending one.
func (s *Session) Select(sel, page Rect) {
	if sel.Empty() {
		s.selection = nil
		return
	}
	s.selection = &selection{sel: sel, page: page}
}

// CaptureMark turns the pending selection into a Mark on the current page and
// clears the selection. It reports false when there was nothing to capture.
func (s *Session) CaptureMark(kind MarkKind) (Mark, bool, error) {
	if !kind.Valid() {
		return Mark{}, false, NewError(KindValidation, fmt.Sprintf("unknown mark kind %q", kind), nil)
	}
	if s.selection == nil {
		return Mark{}, false, nil
	}
	sel, page := s.selection.sel, s.selection.page
	s.selection = nil

	mark := Mark{
		X:      sel.Left - page.Left,
		Y:      sel.Top - page.Top,
		Width:  sel.Width,
		Height: sel.Height,
		Kind:   kind,
		Page:   s.CurrentPage,
	}
	if kind == MarkUnderline {
		mark.Y += 0.2 * sel.Height
	}
	s.Marks = append(s.Marks, mark)
	return mark, true, nil
}

// SetSigning toggles signing mode. Turning it off ends any drag in progress;
// captured points stay on the stroke.
func (s *Session) SetSigning(active bool) {
	s.Signing = active
	if !active {
		s.drawing = false
	}
}

// PointerDown starts a new stroke when signing is active. clientX/clientY and
// page are viewport coordinates.
func (s *Session) PointerDown(clientX, clientY float64, page Rect) bool {
	if !s.Signing {
		return false
	}
	s.drawing = true
	s.pageRect = page
	s.Strokes = append(s.Strokes, Stroke{
		Page:   s.CurrentPage,
		Points: []Point{relative(clientX, clientY, page)},
	})
	return true
}

// PointerMove extends the latest stroke while a drag is active.
func (s *Session) PointerMove(clientX, clientY float64, page Rect) bool {
	if !s.drawing || !s.Signing || len(s.Strokes) == 0 {
		return false
	}
	if page == (Rect{}) {
		page = s.pageRect
	}
	last := &s.Strokes[len(s.Strokes)-1]
	last.Points = append(last.Points, relative(clientX, clientY, page))
	return true
}

// PointerUp finalizes the current stroke. Pointer-leave is handled the same way.
func (s *Session) PointerUp() bool {
	was := s.drawing
	s.drawing = false
	return was
}

// ClearStrokes removes every signature stroke.
func (s *Session) ClearStrokes() int {
	n := len(s.Strokes)
	s.Strokes = nil
	s.drawing = false
	return n
}

func relative(clientX, clientY float64, page Rect) Point {
	return Point{X: clientX - page.Left, Y: clientY - page.Top}
}

// Snapshot is a read-only copy of session state without document bytes.
type Snapshot struct {
	ID           string     `json:"id"`
	FileName     string     `json:"file_name"`
	CurrentPage  int        `json:"current_page"`
	PageCount    int        `json:"page_count"`
	Pages        []PageSize `json:"pages,omitempty"`
	Marks        []Mark     `json:"marks"`
	Strokes      []Stroke   `json:"strokes"`
	Signing      bool       `json:"signing"`
	Drawing      bool       `json:"drawing"`
	HasSelection bool       `json:"has_selection"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	marks := make([]Mark, len(s.Marks))
	copy(marks, s.Marks)
	strokes := make([]Stroke, len(s.Strokes))
	for i, stroke := range s.Strokes {
		strokes[i] = stroke.clone()
	}
	pages := make([]PageSize, len(s.Document.Pages))
	copy(pages, s.Document.Pages)

	return Snapshot{
		ID:           s.ID,
		FileName:     s.Document.Name,
		CurrentPage:  s.CurrentPage,
		PageCount:    s.PageCount,
		Pages:        pages,
		Marks:        marks,
		Strokes:      strokes,
		Signing:      s.Signing,
		Drawing:      s.drawing,
		HasSelection: s.selection != nil,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
