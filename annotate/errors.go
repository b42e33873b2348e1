package annotate

import (
	"context"
	"errors"

	errorslib "github.com/goliatone/go-errors"
)

// ErrorKind defines annotate error kinds.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindExport     ErrorKind = "export_failed"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
	KindNotImpl    ErrorKind = "not_implemented"
)

// Text codes surfaced to clients.
const (
	CodeInvalidInputFile = "invalid_input_file"
	CodeExportFailure    = "export_failed"
	CodeExportInProgress = "export_in_progress"
	CodeExportDiscarded  = "export_discarded"
)

// InvalidFileMessage is shown when an upload is not a PDF.
const InvalidFileMessage = "Please upload a valid PDF file."

// ExportFailureMessage is shown when the PDF could not be produced.
const ExportFailureMessage = "An error occurred while exporting the PDF."

// Error wraps errors with a kind and an optional text code.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new annotate error.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithCode sets the client facing text code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// ErrInvalidInputFile reports a rejected upload.
func ErrInvalidInputFile(err error) *Error {
	return NewError(KindValidation, InvalidFileMessage, err).WithCode(CodeInvalidInputFile)
}

// ErrExportFailure reports a PDF-edit failure.
func ErrExportFailure(err error) *Error {
	return NewError(KindExport, ExportFailureMessage, err).WithCode(CodeExportFailure)
}

// AsGoError maps an error into a go-errors error.
func AsGoError(err error) *errorslib.Error {
	if err == nil {
		return nil
	}

	var ge *errorslib.Error
	if errors.As(err, &ge) {
		return ge
	}

	kind := KindInternal
	msg := err.Error()
	code := ""

	var annErr *Error
	if errors.As(err, &annErr) {
		kind = annErr.Kind
		code = annErr.Code
		if annErr.Msg != "" {
			msg = annErr.Msg
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else if errors.Is(err, context.Canceled) && kind != KindCanceled {
		kind = KindCanceled
		code = ""
	}

	withCode := func(e *errorslib.Error, fallback string) *errorslib.Error {
		if code != "" {
			return e.WithTextCode(code)
		}
		return e.WithTextCode(fallback)
	}

	switch kind {
	case KindValidation:
		return withCode(errorslib.New(msg, errorslib.CategoryValidation), "validation")
	case KindNotFound:
		return withCode(errorslib.New(msg, errorslib.CategoryNotFound), "not_found")
	case KindConflict:
		return withCode(errorslib.New(msg, errorslib.CategoryConflict), "conflict")
	case KindExport:
		return withCode(errorslib.Wrap(err, errorslib.CategoryExternal, msg), CodeExportFailure)
	case KindTimeout:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("timeout")
	case KindCanceled:
		return withCode(errorslib.New(msg, errorslib.CategoryOperation), "canceled")
	case KindNotImpl:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("not_implemented")
	default:
		return withCode(errorslib.New(msg, errorslib.CategoryInternal), "internal")
	}
}

// KindFromError maps an error to its annotate error kind.
func KindFromError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var annErr *Error
	if errors.As(err, &annErr) {
		return annErr.Kind
	}

	var ge *errorslib.Error
	if errors.As(err, &ge) {
		switch ge.Category {
		case errorslib.CategoryValidation, errorslib.CategoryBadInput:
			return KindValidation
		case errorslib.CategoryNotFound:
			return KindNotFound
		case errorslib.CategoryConflict:
			return KindConflict
		case errorslib.CategoryExternal:
			return KindExport
		case errorslib.CategoryOperation:
			switch ge.TextCode {
			case "timeout":
				return KindTimeout
			case "not_implemented":
				return KindNotImpl
			default:
				return KindCanceled
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindInternal
}
