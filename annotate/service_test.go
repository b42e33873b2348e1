package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-annotate/annotate/notify"
)

type stubEditor struct {
	pages   []PageSize
	loadErr error
	saveErr error

	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	applied map[int][]DrawInstruction
	closed  int
}

func (e *stubEditor) Load(ctx context.Context, data []byte) (EditableDocument, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}
	return &stubDocument{editor: e, data: data}, nil
}

type stubDocument struct {
	editor  *stubEditor
	data    []byte
	applied []string
}

func (d *stubDocument) PageCount() int { return len(d.editor.pages) }

func (d *stubDocument) PageSize(page int) (PageSize, error) {
	if page < 1 || page > len(d.editor.pages) {
		return PageSize{}, fmt.Errorf("page %d missing", page)
	}
	return d.editor.pages[page-1], nil
}

func (d *stubDocument) Apply(page int, instructions []DrawInstruction) error {
	d.editor.mu.Lock()
	if d.editor.applied == nil {
		d.editor.applied = map[int][]DrawInstruction{}
	}
	d.editor.applied[page] = append(d.editor.applied[page], instructions...)
	d.editor.mu.Unlock()
	d.applied = append(d.applied, fmt.Sprintf("p%d:%d", page, len(instructions)))
	return nil
}

func (d *stubDocument) Save(w io.Writer) error {
	if d.editor.saveErr != nil {
		return d.editor.saveErr
	}
	if _, err := w.Write(d.data); err != nil {
		return err
	}
	for _, entry := range d.applied {
		if _, err := io.WriteString(w, "\n"+entry); err != nil {
			return err
		}
	}
	return nil
}

func (d *stubDocument) Close() error {
	d.editor.mu.Lock()
	d.editor.closed++
	d.editor.mu.Unlock()
	return nil
}

type stubInspector struct {
	pages []PageSize
}

func (i stubInspector) Inspect(ctx context.Context, data []byte) (DocumentInfo, error) {
	return DocumentInfo{PageCount: len(i.pages), Pages: i.pages}, nil
}

type recordingNotifier struct {
	events []notify.ExportReadyEvent
}

func (n *recordingNotifier) Send(ctx context.Context, evt notify.ExportReadyEvent) error {
	n.events = append(n.events, evt)
	return nil
}

var testPDF = []byte("%PDF-1.7\n% test document\n%%EOF\n")

func pdfUpload() Upload {
	return Upload{Filename: "contract.pdf", ContentType: "application/pdf", Data: testPDF}
}

func newTestService(editor *stubEditor, mutate func(*ServiceConfig)) Service {
	counter := 0
	cfg := ServiceConfig{
		Editor: editor,
		Now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("id-%d", counter)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewService(cfg)
}

func letterEditor(pages int) *stubEditor {
	sizes := make([]PageSize, pages)
	for i := range sizes {
		sizes[i] = PageSize{Width: 612, Height: 792}
	}
	return &stubEditor{pages: sizes}
}

func TestServiceOpenRejectsNonPDF(t *testing.T) {
	svc := newTestService(letterEditor(1), nil)

	_, err := svc.Open(context.Background(), Upload{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")})
	if KindFromError(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Snapshot(context.Background(), "id-1"); KindFromError(err) != KindNotFound {
		t.Fatalf("expected no session to be created, got %v", err)
	}
}

func TestServiceReplaceRejectsNonPDFWithoutChange(t *testing.T) {
	svc := newTestService(letterEditor(2), nil)
	ctx := context.Background()

	snap, err := svc.Open(ctx, pdfUpload())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc.Select(ctx, snap.ID, Rect{Left: 10, Top: 10, Width: 5, Height: 5}, Rect{})
	svc.CaptureMark(ctx, snap.ID, MarkHighlight)

	if _, err := svc.Replace(ctx, snap.ID, Upload{Filename: "a.txt", ContentType: "text/plain", Data: []byte("x")}); err == nil {
		t.Fatalf("expected rejection")
	}
	after, _ := svc.Snapshot(ctx, snap.ID)
	if len(after.Marks) != 1 || after.FileName != "contract.pdf" {
		t.Fatalf("expected session unchanged, got %+v", after)
	}
}

func TestServiceOpenUsesEditorForPages(t *testing.T) {
	svc := newTestService(letterEditor(3), nil)
	snap, err := svc.Open(context.Background(), pdfUpload())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.PageCount != 3 || snap.CurrentPage != 1 || len(snap.Pages) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestServiceOpenRejectsUnreadablePDF(t *testing.T) {
	editor := &stubEditor{loadErr: errors.New("malformed xref")}
	svc := newTestService(editor, nil)
	_, err := svc.Open(context.Background(), pdfUpload())
	if got := AsGoError(err); got == nil || got.TextCode != CodeInvalidInputFile {
		t.Fatalf("expected invalid input file, got %v", err)
	}
}

func TestServiceExportWithoutAnnotationsReserializesInput(t *testing.T) {
	editor := letterEditor(2)
	svc := newTestService(editor, nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())
	closedBefore := editor.closed

	var out bytes.Buffer
	result, err := svc.Export(ctx, snap.ID, &out)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Equal(out.Bytes(), testPDF) {
		t.Fatalf("expected untouched re-serialization, got %q", out.String())
	}
	if result.Filename != "annotated-document.pdf" || result.Instructions != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := editor.closed - closedBefore; got != 1 {
		t.Fatalf("expected export to close its document handle once, got %d", got)
	}
}

func TestServiceExportAppliesPerPage(t *testing.T) {
	editor := letterEditor(2)
	svc := newTestService(editor, nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())
	id := snap.ID

	svc.Select(ctx, id, Rect{Left: 100, Top: 50, Width: 200, Height: 20}, Rect{})
	svc.CaptureMark(ctx, id, MarkHighlight)
	svc.Navigate(ctx, id, NavNext, 0)
	active := true
	svc.SetSigning(ctx, id, &active)
	svc.Pointer(ctx, id, PointerEvent{Type: PointerDown, X: 10, Y: 10})
	svc.Pointer(ctx, id, PointerEvent{Type: PointerMove, X: 20, Y: 10})
	svc.Pointer(ctx, id, PointerEvent{Type: PointerMove, X: 20, Y: 20})
	svc.Pointer(ctx, id, PointerEvent{Type: PointerUp})

	result, err := svc.Export(ctx, id, io.Discard)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Instructions != 3 || result.Pages != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := editor.applied[1]; len(got) != 1 || got[0] != FilledRect(100, 722, 200, 20, ColorYellow, 0.5) {
		t.Fatalf("unexpected page 1 instructions %+v", got)
	}
	if got := editor.applied[2]; len(got) != 2 || got[1] != Line(20, 782, 20, 772, 2, ColorBlack) {
		t.Fatalf("unexpected page 2 instructions %+v", got)
	}
}

func TestServiceExportFailureLeavesSessionUnchanged(t *testing.T) {
	editor := letterEditor(1)
	svc := newTestService(editor, func(cfg *ServiceConfig) {
		cfg.Tracker = NewMemoryTracker()
		cfg.Store = NewMemoryStore()
	})
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())
	svc.Select(ctx, snap.ID, Rect{Left: 1, Top: 1, Width: 1, Height: 1}, Rect{})
	svc.CaptureMark(ctx, snap.ID, MarkUnderline)

	editor.saveErr = errors.New("disk full")
	var out bytes.Buffer
	_, err := svc.Export(ctx, snap.ID, &out)
	if KindFromError(err) != KindExport {
		t.Fatalf("expected export failure, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no partial output, got %d bytes", out.Len())
	}
	after, _ := svc.Snapshot(ctx, snap.ID)
	if len(after.Marks) != 1 {
		t.Fatalf("expected marks to survive failure")
	}

	history, _ := svc.History(ctx, snap.ID)
	if len(history) != 1 || history[0].State != StateFailed {
		t.Fatalf("expected failed history entry, got %+v", history)
	}

	editor.saveErr = nil
	if _, err := svc.Export(ctx, snap.ID, &out); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestServiceExportLoadFailure(t *testing.T) {
	editor := letterEditor(1)
	svc := newTestService(editor, nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	editor.loadErr = errors.New("unsupported encryption")
	_, err := svc.Export(ctx, snap.ID, io.Discard)
	mapped := AsGoError(err)
	if mapped == nil || mapped.TextCode != CodeExportFailure || mapped.Message != ExportFailureMessage {
		t.Fatalf("expected export failure, got %v", err)
	}
	if len(editor.applied) != 0 {
		t.Fatalf("expected nothing applied")
	}
}

func TestServiceExportIsExclusive(t *testing.T) {
	editor := letterEditor(1)
	editor.started = make(chan struct{}, 1)
	editor.release = make(chan struct{})
	svc := newTestService(editor, func(cfg *ServiceConfig) {
		cfg.Inspector = stubInspector{pages: editor.pages}
	})
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Export(ctx, snap.ID, io.Discard)
		done <- err
	}()
	<-editor.started

	_, err := svc.Export(ctx, snap.ID, io.Discard)
	if KindFromError(err) != KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	close(editor.release)
	if err := <-done; err != nil {
		t.Fatalf("first export failed: %v", err)
	}
}

func TestServiceExportDiscardedAfterReplace(t *testing.T) {
	editor := letterEditor(1)
	editor.started = make(chan struct{}, 1)
	editor.release = make(chan struct{})
	notifier := &recordingNotifier{}
	store := NewMemoryStore()
	tracker := NewMemoryTracker()
	svc := newTestService(editor, func(cfg *ServiceConfig) {
		cfg.Notifier = notifier
		cfg.Store = store
		cfg.Tracker = tracker
		cfg.Inspector = stubInspector{pages: editor.pages}
	})
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := svc.Export(ctx, snap.ID, &out)
		done <- err
	}()
	<-editor.started

	if _, err := svc.Replace(ctx, snap.ID, Upload{Filename: "other.pdf", ContentType: "application/pdf", Data: testPDF}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	editor.release <- struct{}{}
	err := <-done
	mapped := AsGoError(err)
	if mapped == nil || mapped.TextCode != CodeExportDiscarded {
		t.Fatalf("expected discarded export, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for discarded export")
	}
	if store.Len() != 0 || len(notifier.events) != 0 {
		t.Fatalf("expected no artifact or notification")
	}
	history, _ := svc.History(ctx, snap.ID)
	if len(history) != 1 || history[0].State != StateDiscarded {
		t.Fatalf("expected discarded history entry, got %+v", history)
	}
}

// replacingStore swaps the session document while the artifact is stored.
type replacingStore struct {
	*MemoryStore
	svc       Service
	sessionID string
}

func (s *replacingStore) Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error) {
	ref, err := s.MemoryStore.Put(ctx, key, r, meta)
	if err != nil {
		return ref, err
	}
	if _, err := s.svc.Replace(ctx, s.sessionID, Upload{Filename: "other.pdf", ContentType: "application/pdf", Data: testPDF}); err != nil {
		return ArtifactRef{}, err
	}
	return ref, nil
}

func TestServiceExportDiscardedWhenReplacedDuringCommit(t *testing.T) {
	editor := letterEditor(1)
	notifier := &recordingNotifier{}
	store := &replacingStore{MemoryStore: NewMemoryStore()}
	svc := newTestService(editor, func(cfg *ServiceConfig) {
		cfg.Notifier = notifier
		cfg.Store = store
		cfg.Tracker = NewMemoryTracker()
		cfg.Inspector = stubInspector{pages: editor.pages}
	})
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())
	store.svc = svc
	store.sessionID = snap.ID

	var out bytes.Buffer
	_, err := svc.Export(ctx, snap.ID, &out)
	if mapped := AsGoError(err); mapped == nil || mapped.TextCode != CodeExportDiscarded {
		t.Fatalf("expected discarded export, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %d bytes", out.Len())
	}
	if store.Len() != 0 {
		t.Fatalf("expected stored artifact to be dropped, got %d", store.Len())
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notification, got %+v", notifier.events)
	}
	history, _ := svc.History(ctx, snap.ID)
	if len(history) != 1 || history[0].State != StateDiscarded {
		t.Fatalf("expected discarded history entry, got %+v", history)
	}
	after, _ := svc.Snapshot(ctx, snap.ID)
	if after.FileName != "other.pdf" {
		t.Fatalf("expected replacement document, got %q", after.FileName)
	}
}

func TestServiceExportStoresAndNotifies(t *testing.T) {
	editor := letterEditor(1)
	notifier := &recordingNotifier{}
	svc := newTestService(editor, func(cfg *ServiceConfig) {
		cfg.Notifier = notifier
		cfg.NotifyRecipients = []string{"user-1"}
		cfg.Store = NewMemoryStore()
		cfg.Tracker = NewMemoryTracker()
		cfg.ArtifactTTL = time.Hour
	})
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	result, err := svc.Export(ctx, snap.ID, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].ExportID != result.ID || notifier.events[0].Recipients[0] != "user-1" {
		t.Fatalf("unexpected notifications %+v", notifier.events)
	}

	info, reader, err := svc.Download(ctx, snap.ID, result.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer reader.Close()
	data, _ := io.ReadAll(reader)
	if !bytes.Equal(data, testPDF) || info.Artifact.Meta.Filename != "annotated-document.pdf" {
		t.Fatalf("unexpected artifact %+v", info)
	}

	if _, _, err := svc.Download(ctx, "other", result.ID); KindFromError(err) != KindNotFound {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}

	cleaned, err := svc.Cleanup(ctx, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleaned.Artifacts != 1 || cleaned.Sessions != 1 {
		t.Fatalf("unexpected cleanup %+v", cleaned)
	}
	if _, err := svc.Snapshot(ctx, snap.ID); KindFromError(err) != KindNotFound {
		t.Fatalf("expected idle session to be dropped, got %v", err)
	}
}

func TestServiceCaptureNoopWithoutSelection(t *testing.T) {
	svc := newTestService(letterEditor(1), nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	result, err := svc.CaptureMark(ctx, snap.ID, MarkHighlight)
	if err != nil || result.Captured {
		t.Fatalf("expected silent no-op, got %+v %v", result, err)
	}
}

func TestServiceToggleSigning(t *testing.T) {
	svc := newTestService(letterEditor(1), nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	on, _ := svc.SetSigning(ctx, snap.ID, nil)
	off, _ := svc.SetSigning(ctx, snap.ID, nil)
	if !on.Signing || off.Signing {
		t.Fatalf("expected toggle on then off, got %v %v", on.Signing, off.Signing)
	}
}

func TestServicePageInstructionsValidatesPage(t *testing.T) {
	svc := newTestService(letterEditor(1), nil)
	ctx := context.Background()
	snap, _ := svc.Open(ctx, pdfUpload())

	if _, err := svc.PageInstructions(ctx, snap.ID, 2); KindFromError(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	plan, err := svc.PageInstructions(ctx, snap.ID, 1)
	if err != nil || plan.Size.Height != 792 {
		t.Fatalf("unexpected plan %+v %v", plan, err)
	}
}
