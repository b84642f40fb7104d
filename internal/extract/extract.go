// Package extract converts uploaded file bytes into plain text. Dispatch is
// driven by the declared media type only; the bytes are never sniffed.
package extract

import (
	"bytes"
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	MediaTypePDF      = "application/pdf"
	MediaTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeText     = "text/plain"
	MediaTypeMarkdown = "text/markdown"
	MediaTypeCSV      = "text/csv"
	MediaTypeJSON     = "application/json"
)

var extensionMediaTypes = map[string]string{
	".pdf":      MediaTypePDF,
	".docx":     MediaTypeDOCX,
	".txt":      MediaTypeText,
	".text":     MediaTypeText,
	".log":      MediaTypeText,
	".md":       MediaTypeMarkdown,
	".markdown": MediaTypeMarkdown,
	".csv":      MediaTypeCSV,
	".json":     MediaTypeJSON,
}

// MediaTypeFromName guesses a media type from a file name extension. It
// returns "" for unknown extensions.
func MediaTypeFromName(name string) string {
	return extensionMediaTypes[strings.ToLower(filepath.Ext(name))]
}

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorrupted         = errors.New("corrupted document")
)

// Kind is the user-facing classification of an extraction failure.
type Kind string

const (
	KindEmptyFile              Kind = "empty_file"
	KindCorruptedOrUnsupported Kind = "corrupted_or_unsupported"
	KindUnknownType            Kind = "unknown_type"
)

// Classify maps an extraction error to its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyFile
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnknownType
	default:
		return KindCorruptedOrUnsupported
	}
}

// UserMessage returns a human readable reason for an extraction failure.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindEmptyFile:
		return "The uploaded file is empty."
	case KindUnknownType:
		return "This file type is not supported. Please upload a PDF, Word, text, Markdown, CSV or JSON file."
	case KindCorruptedOrUnsupported:
		return "The file could not be read. It may be corrupted, password protected, or contain no selectable text."
	default:
		return ""
	}
}

type extractFunc func(data []byte) (string, error)

// Extractor dispatches to a format reader by declared media type.
type Extractor struct {
	readers map[string]extractFunc
}

func New() *Extractor {
	textReader := decodeText
	return &Extractor{
		readers: map[string]extractFunc{
			MediaTypePDF:           extractPDF,
			MediaTypeDOCX:          extractDOCX,
			MediaTypeText:          textReader,
			MediaTypeMarkdown:      textReader,
			"text/x-markdown":      textReader,
			MediaTypeCSV:           textReader,
			MediaTypeJSON:          textReader,
			"application/x-ndjson": textReader,
		},
	}
}

// Supported reports whether the media type has a dedicated reader.
func (e *Extractor) Supported(mediaType string) bool {
	_, ok := e.readers[normalizeMediaType(mediaType)]
	return ok
}

// Extract returns the plain text of data. Unknown media types fall back to
// UTF-8 decoding and fail with ErrUnsupportedFormat when that is not possible.
func (e *Extractor) Extract(data []byte, mediaType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	reader, ok := e.readers[normalizeMediaType(mediaType)]
	if !ok {
		text, err := decodeText(data)
		if err != nil {
			return "", ErrUnsupportedFormat
		}
		return text, nil
	}
	text, err := reader(data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrCorrupted
	}
	return text, nil
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	return strings.ToLower(mediaType)
}

// decodeText decodes UTF-8 text, stripping a byte order mark. Input with
// invalid UTF-8 or NUL bytes is treated as binary.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", ErrCorrupted
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", ErrCorrupted
	}
	return text, nil
}
