package pdfcpuedit

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goliatone/go-annotate/annotate"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	_ annotate.DocumentEditor   = (*Editor)(nil)
	_ annotate.PageInspector    = (*Editor)(nil)
	_ annotate.EditableDocument = (*Document)(nil)
)

// Editor loads PDFs into pdfcpu contexts for annotation.
type Editor struct {
	// Strict switches pdfcpu validation from relaxed to strict mode.
	Strict bool
}

// NewEditor creates a pdfcpu-backed document editor.
func NewEditor() *Editor {
	return &Editor{}
}

// Load parses and validates the document.
func (e *Editor) Load(ctx context.Context, data []byte) (annotate.EditableDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdf, err := e.read(data)
	if err != nil {
		return nil, err
	}
	return &Document{ctx: pdf}, nil
}

// Inspect reports page count and MediaBox sizes.
func (e *Editor) Inspect(ctx context.Context, data []byte) (annotate.DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return annotate.DocumentInfo{}, err
	}
	pdf, err := e.read(data)
	if err != nil {
		return annotate.DocumentInfo{}, err
	}

	info := annotate.DocumentInfo{PageCount: pdf.PageCount}
	for page := 1; page <= pdf.PageCount; page++ {
		box, err := mediaBox(pdf, page)
		if err != nil {
			return annotate.DocumentInfo{}, err
		}
		info.Pages = append(info.Pages, annotate.PageSize{Width: box.Width(), Height: box.Height()})
	}
	return info, nil
}

func (e *Editor) read(data []byte) (*model.Context, error) {
	if e == nil {
		e = &Editor{}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pdfcpu: empty document")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if e.Strict {
		conf.ValidationMode = model.ValidationStrict
	}

	pdf, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu: read: %w", err)
	}
	if err := api.ValidateContext(pdf); err != nil {
		return nil, fmt.Errorf("pdfcpu: validate: %w", err)
	}
	if err := pdf.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("pdfcpu: page count: %w", err)
	}
	return pdf, nil
}

// Document is one pdfcpu context scoped to a single export.
type Document struct {
	ctx    *model.Context
	closed bool
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	if d == nil || d.ctx == nil {
		return 0
	}
	return d.ctx.PageCount
}

// PageSize returns the MediaBox size of a page.
func (d *Document) PageSize(page int) (annotate.PageSize, error) {
	if err := d.usable(); err != nil {
		return annotate.PageSize{}, err
	}
	box, err := mediaBox(d.ctx, page)
	if err != nil {
		return annotate.PageSize{}, err
	}
	return annotate.PageSize{Width: box.Width(), Height: box.Height()}, nil
}

// Apply draws the instructions on top of the existing page content. The
// original content is wrapped in q/Q so its graphics state cannot leak into
// the overlay.
func (d *Document) Apply(page int, instructions []annotate.DrawInstruction) error {
	if err := d.usable(); err != nil {
		return err
	}
	if len(instructions) == 0 {
		return nil
	}

	pageDict, _, inherited, err := d.ctx.PageDict(page, true)
	if err != nil {
		return fmt.Errorf("pdfcpu: page %d: %w", page, err)
	}
	if pageDict == nil || inherited == nil || inherited.MediaBox == nil {
		return fmt.Errorf("pdfcpu: page %d not found", page)
	}

	resources, err := d.resources(pageDict)
	if err != nil {
		return fmt.Errorf("pdfcpu: page %d resources: %w", page, err)
	}

	var gsErr error
	content, err := overlayContent(instructions, inherited.MediaBox.LL.X, inherited.MediaBox.LL.Y, func(opacity float64) string {
		name, err := d.ensureGraphicsState(resources, opacity)
		if err != nil && gsErr == nil {
			gsErr = err
		}
		return name
	})
	if err != nil {
		return err
	}
	if gsErr != nil {
		return fmt.Errorf("pdfcpu: page %d graphics state: %w", page, gsErr)
	}

	existing, err := d.contents(pageDict)
	if err != nil {
		return fmt.Errorf("pdfcpu: page %d contents: %w", page, err)
	}

	prefix, err := d.newContentStream("q\n")
	if err != nil {
		return err
	}
	overlay, err := d.newContentStream("Q\n" + content)
	if err != nil {
		return err
	}

	merged := types.Array{*prefix}
	merged = append(merged, existing...)
	merged = append(merged, *overlay)
	pageDict["Contents"] = merged
	return nil
}

// Save serializes the document.
func (d *Document) Save(w io.Writer) error {
	if err := d.usable(); err != nil {
		return err
	}
	if err := api.WriteContext(d.ctx, w); err != nil {
		return fmt.Errorf("pdfcpu: write: %w", err)
	}
	return nil
}

// Close releases the context. The document is unusable afterwards.
func (d *Document) Close() error {
	if d == nil {
		return nil
	}
	d.closed = true
	d.ctx = nil
	return nil
}

func (d *Document) usable() error {
	if d == nil || d.ctx == nil || d.closed {
		return fmt.Errorf("pdfcpu: document closed")
	}
	return nil
}

func (d *Document) resources(pageDict types.Dict) (types.Dict, error) {
	obj, found := pageDict.Find("Resources")
	if !found || obj == nil {
		res := types.Dict{}
		pageDict["Resources"] = res
		return res, nil
	}
	res, err := d.ctx.DereferenceDict(obj)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = types.Dict{}
		pageDict["Resources"] = res
	}
	return res, nil
}

func (d *Document) ensureGraphicsState(resources types.Dict, opacity float64) (string, error) {
	name := gsResourceName(opacity)

	var extGState types.Dict
	if obj, found := resources.Find("ExtGState"); found && obj != nil {
		dict, err := d.ctx.DereferenceDict(obj)
		if err != nil {
			return name, err
		}
		extGState = dict
	}
	if extGState == nil {
		extGState = types.Dict{}
		resources["ExtGState"] = extGState
	}
	if _, ok := extGState[name]; ok {
		return name, nil
	}

	extGState[name] = types.Dict{
		"Type": types.Name("ExtGState"),
		"ca":   types.Float(opacity),
		"CA":   types.Float(opacity),
	}
	return name, nil
}

func (d *Document) contents(pageDict types.Dict) (types.Array, error) {
	obj, found := pageDict.Find("Contents")
	if !found || obj == nil {
		return nil, nil
	}
	switch v := obj.(type) {
	case types.IndirectRef:
		target, err := d.ctx.Dereference(v)
		if err != nil {
			return nil, err
		}
		if arr, ok := target.(types.Array); ok {
			return arr, nil
		}
		return types.Array{v}, nil
	case types.Array:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected contents type %T", obj)
	}
}

func (d *Document) newContentStream(content string) (*types.IndirectRef, error) {
	sd, err := d.ctx.NewStreamDictForBuf([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("pdfcpu: content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("pdfcpu: encode content stream: %w", err)
	}
	ref, err := d.ctx.IndRefForNewObject(*sd)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu: register content stream: %w", err)
	}
	return ref, nil
}

func mediaBox(pdf *model.Context, page int) (*types.Rectangle, error) {
	if page < 1 || page > pdf.PageCount {
		return nil, fmt.Errorf("pdfcpu: page %d out of range [1, %d]", page, pdf.PageCount)
	}
	_, _, inherited, err := pdf.PageDict(page, false)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu: page %d: %w", page, err)
	}
	if inherited == nil || inherited.MediaBox == nil {
		return nil, fmt.Errorf("pdfcpu: page %d has no media box", page)
	}
	return inherited.MediaBox, nil
}
