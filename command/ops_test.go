package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goliatone/go-annotate/annotate"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

type fakeFS struct {
	files   map[string][]byte
	outputs map[string]*bufferCloser
	removed []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string][]byte{}, outputs: map[string]*bufferCloser{}}
}

func (f *fakeFS) install(cmd *BatchCommand) {
	cmd.readFile = func(path string) ([]byte, error) {
		data, ok := f.files[path]
		if !ok {
			return nil, errors.New("missing " + path)
		}
		return data, nil
	}
	cmd.create = func(path string) (io.WriteCloser, error) {
		out := &bufferCloser{}
		f.outputs[path] = out
		return out, nil
	}
	cmd.remove = func(path string) error {
		f.removed = append(f.removed, path)
		return nil
	}
	cmd.sleep = func(time.Duration) {}
}

func TestBatchCommand_AppliesMarksAndStrokes(t *testing.T) {
	fs := newFakeFS()
	fs.files["in/a.pdf"] = []byte("%PDF-a")
	loader := func(ctx context.Context) ([]BatchJob, error) {
		return []BatchJob{{
			Input:  "in/a.pdf",
			Output: "out/a.pdf",
			Marks: []BatchMark{
				{Page: 1, Kind: annotate.MarkHighlight, Left: 10, Top: 10, Width: 50, Height: 12},
				{Page: 2, Kind: annotate.MarkUnderline, Left: 10, Top: 40, Width: 50, Height: 12},
			},
			Strokes: []BatchStroke{{
				Page:   2,
				Points: []annotate.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 0}},
			}},
		}}, nil
	}

	svc := newService()
	cmd := NewBatchAnnotateCommand(svc, loader)
	fs.install(cmd)

	count, err := cmd.run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job, got %d", count)
	}
	out := fs.outputs["out/a.pdf"]
	if out == nil || !out.closed {
		t.Fatalf("expected closed output")
	}
	// highlight on page 1, underline and two stroke segments on page 2
	if out.String() != "%PDF-a applied=[1 2 2 2]" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestBatchCommand_RunFromFileHonorsLimits(t *testing.T) {
	fs := newFakeFS()
	fs.files["a.pdf"] = []byte("%PDF-a")
	fs.files["b.pdf"] = []byte("%PDF-b")
	jobs, _ := json.Marshal([]BatchJob{
		{Input: "a.pdf", Output: "a-out.pdf"},
		{Input: "b.pdf", Output: "b-out.pdf"},
	})
	fs.files["jobs.json"] = jobs

	cmd := NewBatchAnnotateCommand(newService(), nil, WithBatchLimits(BatchLimits{MaxJobs: 1, MinInterval: time.Millisecond}))
	fs.install(cmd)

	count, err := cmd.run(context.Background(), "jobs.json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 || len(fs.outputs) != 1 {
		t.Fatalf("expected a single job, got count=%d outputs=%d", count, len(fs.outputs))
	}
	if fs.outputs["a-out.pdf"].String() != "%PDF-a applied=[]" {
		t.Fatalf("unexpected output %q", fs.outputs["a-out.pdf"].String())
	}
}

func TestBatchCommand_Errors(t *testing.T) {
	fs := newFakeFS()
	fs.files["bad.json"] = []byte("{")
	fs.files["text.pdf"] = []byte("not a pdf")

	cmd := NewBatchAnnotateCommand(newService(), nil)
	fs.install(cmd)

	if _, err := cmd.run(context.Background(), ""); err == nil {
		t.Fatalf("expected missing loader error")
	}
	if _, err := cmd.run(context.Background(), "bad.json"); err == nil {
		t.Fatalf("expected invalid JSON error")
	}

	cmd.loader = func(ctx context.Context) ([]BatchJob, error) {
		return []BatchJob{{Input: "text.pdf", Output: "x.pdf"}}, nil
	}
	if _, err := cmd.run(context.Background(), ""); annotate.KindFromError(err) != annotate.KindValidation {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(fs.outputs) != 0 {
		t.Fatalf("expected no output for rejected input")
	}

	if _, err := NewBatchAnnotateCommand(nil, nil).run(context.Background(), ""); err == nil {
		t.Fatalf("expected service required")
	}
}

func TestBatchCommand_Options(t *testing.T) {
	cmd := NewBatchAnnotateCommand(newService(), nil)
	if cmd.CLIOptions().Path[0] != "annotate-batch" || cmd.CronOptions().Expression != "0 * * * *" {
		t.Fatalf("unexpected defaults %+v %+v", cmd.CLIOptions(), cmd.CronOptions())
	}
	if _, ok := cmd.CLIHandler().(*batchCLI); !ok {
		t.Fatalf("expected batch CLI handler")
	}
}
