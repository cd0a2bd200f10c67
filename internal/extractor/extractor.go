// Package extractor turns uploaded report files into plain text for the analysis pipeline.
package extractor

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeTXT  = "text/plain"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text could be extracted")
)

// aliases maps content types browsers and clients send to the canonical ones above.
var aliases = map[string]string{
	ContentTypePDF:      ContentTypePDF,
	"application/x-pdf": ContentTypePDF,

	ContentTypeDOCX:      ContentTypeDOCX,
	"application/docx":   ContentTypeDOCX,
	"application/x-docx": ContentTypeDOCX,

	"application/vnd.openxmlformats-officedocument.wordprocessingml": ContentTypeDOCX,

	ContentTypeTXT:      ContentTypeTXT,
	"text/txt":          ContentTypeTXT,
	"application/txt":   ContentTypeTXT,
	"application/x-txt": ContentTypeTXT,
}

// ContentType resolves the canonical content type of an upload. The file extension wins
// over the declared header, which is often generic (application/octet-stream).
func ContentType(filename, declared string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ContentTypePDF
	case ".docx":
		return ContentTypeDOCX
	case ".txt", ".text":
		return ContentTypeTXT
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return declared
	}
	if canonical, ok := aliases[strings.ToLower(mediaType)]; ok {
		return canonical
	}
	return mediaType
}

// Supported reports whether Extract can handle contentType.
func Supported(contentType string) bool {
	_, ok := aliases[contentType]
	return ok
}

// Extract returns the text of data according to its content type.
func Extract(contentType string, data []byte) (string, error) {
	switch aliases[contentType] {
	case ContentTypePDF:
		return ExtractPDF(data)
	case ContentTypeDOCX:
		return ExtractDOCX(data)
	case ContentTypeTXT:
		return ExtractTXT(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
}
