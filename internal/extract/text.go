package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

func extractText(_ context.Context, r io.Reader, enc Encoding) (string, error) {
	return readText(r, enc)
}

// extractMarkdown renders markdown to HTML and keeps the visible text, so
// syntax such as emphasis markers and link targets does not reach the chunks.
func extractMarkdown(_ context.Context, r io.Reader, enc Encoding) (string, error) {
	src, err := readText(r, enc)
	if err != nil {
		return "", err
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(src), &html); err != nil {
		return "", domain.NewExtractionIOError("failed to render markdown", err)
	}
	return htmlText(&html)
}

func extractHTML(_ context.Context, r io.Reader, _ Encoding) (string, error) {
	return htmlText(r)
}

// extractXML keeps character data and drops markup. The document is parsed
// leniently so undeclared entities survive as text.
func extractXML(_ context.Context, r io.Reader, _ Encoding) (string, error) {
	body, err := docconv.XMLToText(r, nil, nil, false)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read xml", err)
	}
	return strings.TrimSpace(body), nil
}

// Elements whose content is never rendered.
var hiddenHTML = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "template": true,
}

// Elements that start a new line of visible text.
var blockHTML = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "pre": true, "section": true, "table": true, "td": true, "th": true,
	"tr": true, "ul": true,
}

// htmlText returns the visible text of an HTML document, one line per block
// element with runs of whitespace collapsed.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", domain.NewExtractionIOError("failed to read html", err)
			}
			return collapseLines(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenHTML[tag] {
				switch {
				case tt == html.StartTagToken:
					hidden++
				case tt == html.EndTagToken && hidden > 0:
					hidden--
				}
			}
			if blockHTML[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
