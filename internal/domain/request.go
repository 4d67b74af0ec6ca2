package domain

import "fmt"

// DefaultMaxMarkdownBytes is the 2 MiB ceiling on markdown input.
const DefaultMaxMarkdownBytes = 2 * 1024 * 1024

// ConversionRequest is a validated request. It only exists once Validate has passed.
type ConversionRequest struct {
	Markdown string
	Options  ConversionOptions
}

// Validate checks the markdown against the byte ceiling.
func (r ConversionRequest) Validate(maxBytes int) error {
	if r.Markdown == "" {
		return ErrMissingMarkdown
	}
	if maxBytes > 0 && len(r.Markdown) > maxBytes {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrMarkdownTooLarge, len(r.Markdown), maxBytes)
	}
	return nil
}

// ResultKind tags a ConversionResult.
type ResultKind int

const (
	// KindHTML carries a composed, print-ready HTML document.
	KindHTML ResultKind = iota + 1
	// KindPDF carries rendered PDF bytes.
	KindPDF
)

func (k ResultKind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// ConversionResult is either an HTML document or a PDF buffer, never both.
type ConversionResult struct {
	Kind     ResultKind
	Document string
	PDF      []byte
}

// HTMLResult wraps a composed document.
func HTMLResult(doc string) ConversionResult {
	return ConversionResult{Kind: KindHTML, Document: doc}
}

// PDFResult wraps rendered bytes.
func PDFResult(pdf []byte) ConversionResult {
	return ConversionResult{Kind: KindPDF, PDF: pdf}
}
