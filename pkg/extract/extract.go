// Package extract turns uploaded documents into plain text for the
// conversation engine. PDF, DOCX and plain text are read locally; images
// need an ImageReader.
package extract

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
)

// MaxFileSize is the default upload limit.
const MaxFileSize int64 = 10 * 1024 * 1024

// Supported MIME types.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeText = "text/plain"
)

// Kind is the document family a MIME type maps to.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindDOCX  Kind = "docx"
	KindImage Kind = "image"
	KindText  Kind = "text"
)

var kinds = map[string]Kind{
	MimePDF:     KindPDF,
	MimeDOCX:    KindDOCX,
	MimeJPEG:    KindImage,
	"image/jpg": KindImage,
	MimePNG:     KindImage,
	MimeText:    KindText,
}

// ImageReader reads the text shown in an image (OCR or a vision model).
type ImageReader interface {
	ReadImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// TextExtractor is the contract the conversation engine depends on.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Extractor dispatches on MIME type.
type Extractor struct {
	maxBytes int64
	images   ImageReader
	logger   *zap.Logger
}

var _ TextExtractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes overrides MaxFileSize.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithImageReader enables image uploads.
func WithImageReader(r ImageReader) Option {
	return func(e *Extractor) { e.images = r }
}

// New creates an Extractor.
func New(logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		maxBytes: MaxFileSize,
		logger:   logger.Named("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KindOf maps a MIME type (parameters allowed) to a document kind.
func KindOf(mimeType string) (Kind, bool) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	k, ok := kinds[mt]
	return k, ok
}

// ExtractText returns the document's text with line structure preserved.
// It fails with apperrors.ErrUnsupportedFileType, ErrFileTooLarge or
// ErrNoTextExtracted for the corresponding caller errors.
func (e *Extractor) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	kind, ok := KindOf(mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFileType, mimeType)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", apperrors.ErrFileTooLarge, len(data), e.maxBytes)
	}

	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindText:
		text = decodeText(data)
	case KindImage:
		if e.images == nil {
			return "", fmt.Errorf("%w: %s (no image reader configured)", apperrors.ErrUnsupportedFileType, mimeType)
		}
		text, err = e.images.ReadImage(ctx, data, mimeType)
	}
	if err != nil {
		e.logger.Warn("Text extraction failed",
			zap.String("kind", string(kind)),
			zap.Int("size", len(data)),
			zap.Error(err))
		return "", fmt.Errorf("extract %s text: %w", kind, err)
	}

	text = normalizeLines(text)
	if text == "" {
		return "", apperrors.ErrNoTextExtracted
	}

	e.logger.Debug("Text extracted",
		zap.String("kind", string(kind)),
		zap.Int("size", len(data)),
		zap.Int("chars", utf8.RuneCountInString(text)))
	return text, nil
}

// Truncate returns at most limit characters (runes) of s.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// normalizeLines trims every line, drops blank runs down to one empty line
// and trims the whole text. "label: value" lines must survive intact.
func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
