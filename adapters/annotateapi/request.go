package annotateapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/goliatone/go-annotate/annotate"
)

// UploadField is the multipart form field carrying the document.
const UploadField = "file"

// FilenameHeader names the upload when the body is the raw document.
const FilenameHeader = "X-Filename"

// Request provides minimal request access for transport adapters.
type Request interface {
	Context() context.Context
	Method() string
	Path() string
	Header(name string) string
	Query(name string) string
	Body() io.ReadCloser
}

type navigatePayload struct {
	Action annotate.NavAction `json:"action"`
	Page   int                `json:"page,omitempty"`
}

type selectionPayload struct {
	Selection annotate.Rect `json:"selection"`
	PageRect  annotate.Rect `json:"page_rect"`
}

type capturePayload struct {
	Kind      annotate.MarkKind `json:"kind"`
	Selection *annotate.Rect    `json:"selection,omitempty"`
	PageRect  *annotate.Rect    `json:"page_rect,omitempty"`
}

type signingPayload struct {
	Active *bool `json:"active,omitempty"`
}

// decodeUpload reads a document either from a multipart form or from the raw
// request body.
func decodeUpload(req Request, maxBytes int64) (annotate.Upload, error) {
	body := req.Body()
	if body == nil {
		return annotate.Upload{}, annotate.ErrInvalidInputFile(fmt.Errorf("request body is required"))
	}
	defer body.Close()

	contentType := req.Header("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.EqualFold(mediaType, "multipart/form-data") {
		return decodeMultipart(body, params["boundary"], maxBytes)
	}

	data, err := readLimited(body, maxBytes)
	if err != nil {
		return annotate.Upload{}, err
	}
	filename := req.Header(FilenameHeader)
	if filename == "" {
		filename = req.Query("filename")
	}
	return annotate.Upload{Filename: filename, ContentType: contentType, Data: data}, nil
}

func decodeMultipart(body io.Reader, boundary string, maxBytes int64) (annotate.Upload, error) {
	if boundary == "" {
		return annotate.Upload{}, annotate.NewError(annotate.KindValidation, "multipart boundary is missing", nil)
	}
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return annotate.Upload{}, annotate.NewError(annotate.KindValidation, fmt.Sprintf("multipart field %q is required", UploadField), nil)
		}
		if err != nil {
			return annotate.Upload{}, annotate.NewError(annotate.KindValidation, "invalid multipart payload", err)
		}
		if part.FormName() != UploadField {
			_ = part.Close()
			continue
		}
		data, err := readLimited(part, maxBytes)
		_ = part.Close()
		if err != nil {
			return annotate.Upload{}, err
		}
		return annotate.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = annotate.DefaultMaxUploadBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, annotate.NewError(annotate.KindValidation, "failed to read upload", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, annotate.ErrInvalidInputFile(fmt.Errorf("upload exceeds %d bytes", maxBytes))
	}
	return data, nil
}

// decodeJSON decodes an optional JSON body. An empty body leaves out untouched.
func decodeJSON(req Request, out any) error {
	body := req.Body()
	if body == nil {
		return nil
	}
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return annotate.NewError(annotate.KindValidation, "invalid request payload", err)
	}
	return nil
}
