// Package extract turns stored document bytes into raw text, dispatching on
// the declared file extension.
package extract

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// Extractor converts one family of formats to plain text. enc is the resolved
// source encoding; only text-based formats consult it.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, enc Encoding) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, r io.Reader, enc Encoding) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, r io.Reader, enc Encoding) (string, error) {
	return f(ctx, r, enc)
}

// Registry maps lower-case extensions (with leading dot) to extractors.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with every built-in format registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}

	r.Register(ExtractorFunc(extractText), ".txt", ".vtt", ".properties")
	r.Register(ExtractorFunc(extractMarkdown), ".md", ".markdown", ".mdx")
	r.Register(ExtractorFunc(extractDocx), ".docx")
	r.Register(ExtractorFunc(extractPptx), ".pptx")
	r.Register(ExtractorFunc(extractPresentation), ".ppt")
	r.Register(ExtractorFunc(extractPDF), ".pdf")
	r.Register(ExtractorFunc(extractCSV), ".csv")
	r.Register(ExtractorFunc(extractWorkbook), ".xlsx")
	r.Register(ExtractorFunc(extractSpreadsheet), ".xls")
	r.Register(ExtractorFunc(extractHTML), ".html", ".htm")
	r.Register(ExtractorFunc(extractXML), ".xml")
	r.Register(ExtractorFunc(extractEPUB), ".epub")

	return r
}

// Register binds e to each extension, replacing any previous binding.
func (r *Registry) Register(e Extractor, exts ...string) {
	for _, ext := range exts {
		r.byExt[normalizeExt(ext)] = e
	}
}

// Supports reports whether ext has a registered extractor.
func (r *Registry) Supports(ext string) bool {
	_, ok := r.byExt[normalizeExt(ext)]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads r as a document of type ext. An empty encoding means UTF-8.
func (r *Registry) Extract(ctx context.Context, rd io.Reader, ext, encoding string) (string, error) {
	e, ok := r.byExt[normalizeExt(ext)]
	if !ok {
		return "", domain.NewUnsupportedFormatError(ext)
	}

	enc, err := ResolveEncoding(encoding)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", domain.NewExtractionIOError("extraction cancelled", err)
	}

	return e.Extract(ctx, rd, enc)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
