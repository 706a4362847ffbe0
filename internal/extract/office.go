package extract

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/docpipe/internal/domain"
)

func extractDocx(_ context.Context, r io.Reader, _ Encoding) (string, error) {
	body, _, err := docconv.ConvertDocx(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read docx", err)
	}
	return body, nil
}

func extractPptx(_ context.Context, r io.Reader, _ Encoding) (string, error) {
	body, _, err := docconv.ConvertPptx(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read presentation", err)
	}
	return body, nil
}

// extractPDF returns the text layer in page order. Pages without text
// contribute nothing. docconv shells out to poppler's pdftotext, which must
// be on PATH.
func extractPDF(_ context.Context, r io.Reader, _ Encoding) (string, error) {
	if missing := MissingPDFTools(); len(missing) > 0 {
		return "", domain.NewExtractionIOError(
			fmt.Sprintf("pdf extraction needs poppler-utils; %s not found on PATH", strings.Join(missing, ", ")), nil)
	}
	body, _, err := docconv.ConvertPDF(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read pdf", err)
	}
	return body, nil
}

// pdfTools are the poppler binaries docconv runs for every PDF.
var pdfTools = []string{"pdftotext", "pdfinfo"}

// MissingPDFTools lists the poppler binaries that cannot be found on PATH.
func MissingPDFTools() []string {
	var missing []string
	for _, tool := range pdfTools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}
