package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB walks the OPF spine and concatenates the visible text of each
// content document in reading order.
func extractEPUB(ctx context.Context, r io.Reader, _ Encoding) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read epub", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.NewExtractionIOError("failed to open epub container", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := decodeZipXML(files, "META-INF/container.xml", &container); err != nil {
		return "", err
	}
	if len(container.Rootfiles) == 0 {
		return "", domain.NewExtractionIOError("epub has no rootfile", nil)
	}
	opfPath := container.Rootfiles[0].FullPath

	var pkg epubPackage
	if err := decodeZipXML(files, opfPath, &pkg); err != nil {
		return "", err
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}

	var parts []string
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return "", domain.NewExtractionIOError("extraction cancelled", err)
		}

		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		f, ok := files[path.Join(path.Dir(opfPath), href)]
		if !ok {
			return "", domain.NewExtractionIOError(fmt.Sprintf("epub spine item %q missing", href), nil)
		}

		rc, err := f.Open()
		if err != nil {
			return "", domain.NewExtractionIOError(fmt.Sprintf("failed to open %q", href), err)
		}
		text, err := htmlText(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func decodeZipXML(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return domain.NewExtractionIOError(fmt.Sprintf("epub entry %q missing", name), nil)
	}
	rc, err := f.Open()
	if err != nil {
		return domain.NewExtractionIOError(fmt.Sprintf("failed to open %q", name), err)
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return domain.NewExtractionIOError(fmt.Sprintf("failed to parse %q", name), err)
	}
	return nil
}
