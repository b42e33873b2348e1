package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/goliatone/go-annotate/annotate"
	gcmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
)

type stubEditor struct{}

func (stubEditor) Load(ctx context.Context, data []byte) (annotate.EditableDocument, error) {
	_ = ctx
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, errors.New("not a pdf")
	}
	return &stubDocument{data: data}, nil
}

type stubDocument struct {
	data    []byte
	applied []int
}

func (d *stubDocument) PageCount() int { return 2 }

func (d *stubDocument) PageSize(page int) (annotate.PageSize, error) {
	return annotate.PageSize{Width: 612, Height: 792}, nil
}

func (d *stubDocument) Apply(page int, instructions []annotate.DrawInstruction) error {
	for range instructions {
		d.applied = append(d.applied, page)
	}
	return nil
}

func (d *stubDocument) Save(w io.Writer) error {
	if _, err := w.Write(d.data); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, " applied=%v", d.applied)
	return err
}

func (d *stubDocument) Close() error { return nil }

func newService() annotate.Service {
	counter := 0
	return annotate.NewService(annotate.ServiceConfig{
		Editor: stubEditor{},
		Now:    func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("id-%d", counter)
		},
	})
}

func openSession(t *testing.T, svc annotate.Service) annotate.Snapshot {
	t.Helper()
	var snap annotate.Snapshot
	err := NewOpenSessionHandler(svc).Execute(context.Background(), OpenSession{
		Upload: annotate.Upload{Filename: "form.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		Result: &snap,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return snap
}

func TestOpenSessionHandler_StoresResults(t *testing.T) {
	svc := newService()
	result := gcmd.NewResult[annotate.Snapshot]()
	ctx := gcmd.ContextWithResult(context.Background(), result)

	var got annotate.Snapshot
	err := NewOpenSessionHandler(svc).Execute(ctx, OpenSession{
		Upload: annotate.Upload{Filename: "form.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		Result: &got,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.ID == "" || got.PageCount != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	stored, ok := result.Load()
	if !ok {
		t.Fatalf("expected context result")
	}
	if stored.ID != got.ID {
		t.Fatalf("expected context result %q, got %q", got.ID, stored.ID)
	}
}

func TestCaptureAndExportHandlers(t *testing.T) {
	svc := newService()
	snap := openSession(t, svc)

	var capture annotate.CaptureResult
	err := NewCaptureMarkHandler(svc).Execute(context.Background(), CaptureMark{
		SessionID: snap.ID,
		Kind:      annotate.MarkHighlight,
		Selection: annotate.Rect{Left: 110, Top: 60, Width: 200, Height: 20},
		PageRect:  annotate.Rect{Left: 10, Top: 10, Width: 612, Height: 792},
		Result:    &capture,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !capture.Captured || capture.Mark.X != 100 || capture.Mark.Y != 50 {
		t.Fatalf("unexpected capture %+v", capture)
	}

	var out bytes.Buffer
	result := gcmd.NewResult[annotate.ExportResult]()
	ctx := gcmd.ContextWithResult(context.Background(), result)
	if err := NewExportDocumentHandler(svc).Execute(ctx, ExportDocument{SessionID: snap.ID, Output: &out}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if out.String() != "%PDF-1.4 applied=[1]" {
		t.Fatalf("unexpected export %q", out.String())
	}
	stored, ok := result.Load()
	if !ok || stored.Instructions != 1 {
		t.Fatalf("unexpected stored export %+v", stored)
	}

	if err := NewCloseSessionHandler(svc).Execute(context.Background(), CloseSession{SessionID: snap.ID}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.Snapshot(context.Background(), snap.ID); annotate.KindFromError(err) != annotate.KindNotFound {
		t.Fatalf("expected closed session, got %v", err)
	}
}

func TestReplaceDocumentHandlerResetsMarks(t *testing.T) {
	svc := newService()
	snap := openSession(t, svc)
	if err := NewCaptureMarkHandler(svc).Execute(context.Background(), CaptureMark{
		SessionID: snap.ID,
		Kind:      annotate.MarkUnderline,
		Selection: annotate.Rect{Left: 1, Top: 1, Width: 5, Height: 5},
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	var replaced annotate.Snapshot
	err := NewReplaceDocumentHandler(svc).Execute(context.Background(), ReplaceDocument{
		SessionID: snap.ID,
		Upload:    annotate.Upload{Filename: "other.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
		Result:    &replaced,
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(replaced.Marks) != 0 || replaced.FileName != "other.pdf" {
		t.Fatalf("unexpected replaced snapshot %+v", replaced)
	}
}

func TestCleanupSessionsHandler_UsesClock(t *testing.T) {
	svc := newService()
	openSession(t, svc)

	handler := NewCleanupSessionsHandler(svc)
	handler.Clock = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	handler.Config = gcmd.HandlerConfig{Expression: "*/15 * * * *"}

	var got annotate.CleanupResult
	if err := handler.Execute(context.Background(), CleanupSessions{Result: &got}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if got.Sessions != 1 {
		t.Fatalf("expected idle session dropped, got %+v", got)
	}
	if handler.CronOptions().Expression != "*/15 * * * *" {
		t.Fatalf("unexpected cron options %+v", handler.CronOptions())
	}
	if err := handler.CronHandler()(); err != nil {
		t.Fatalf("cron handler: %v", err)
	}
}

func TestHandlersRequireService(t *testing.T) {
	err := NewExportDocumentHandler(nil).Execute(context.Background(), ExportDocument{SessionID: "s"})
	var goErr *goerrors.Error
	if !errors.As(err, &goErr) || goErr.TextCode != "SERVICE_REQUIRED" {
		t.Fatalf("expected SERVICE_REQUIRED, got %v", err)
	}
}

func TestMessagesValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  interface{ Validate() error }
		code string
	}{
		{"open without data", OpenSession{}, "UPLOAD_REQUIRED"},
		{"replace without session", ReplaceDocument{}, "SESSION_ID_REQUIRED"},
		{"capture bad kind", CaptureMark{SessionID: "s", Kind: "strike"}, "MARK_KIND_INVALID"},
		{"export without session", ExportDocument{}, "SESSION_ID_REQUIRED"},
		{"close without session", CloseSession{}, "SESSION_ID_REQUIRED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var goErr *goerrors.Error
			if err := tc.msg.Validate(); !errors.As(err, &goErr) || goErr.TextCode != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
	if err := (CaptureMark{SessionID: "s", Kind: annotate.MarkHighlight}).Validate(); err != nil {
		t.Fatalf("expected valid capture, got %v", err)
	}
}
