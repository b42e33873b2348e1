package annotate

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

const pdfMediaType = "application/pdf"

// DefaultMaxUploadBytes caps accepted uploads.
const DefaultMaxUploadBytes int64 = 32 << 20

// Upload is a file handed over by drag-and-drop or the file picker.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ValidateUpload accepts application/pdf uploads. Uploads without a specific
// media type fall back to the .pdf extension.
func ValidateUpload(upload Upload, maxBytes int64) error {
	if len(upload.Data) == 0 {
		return ErrInvalidInputFile(fmt.Errorf("empty upload"))
	}
	if maxBytes > 0 && int64(len(upload.Data)) > maxBytes {
		return ErrInvalidInputFile(fmt.Errorf("upload exceeds %d bytes", maxBytes))
	}

	mediaType := ""
	if upload.ContentType != "" {
		parsed, _, err := mime.ParseMediaType(upload.ContentType)
		if err != nil {
			return ErrInvalidInputFile(err)
		}
		mediaType = strings.ToLower(parsed)
	}

	switch mediaType {
	case pdfMediaType:
		return nil
	case "", "application/octet-stream":
		if strings.EqualFold(filepath.Ext(upload.Filename), ".pdf") {
			return nil
		}
	}
	return ErrInvalidInputFile(fmt.Errorf("unsupported file %q (%s)", upload.Filename, upload.ContentType))
}
