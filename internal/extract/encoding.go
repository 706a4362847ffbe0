package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Encoding is a resolved source character set.
type Encoding struct {
	Name string
	enc  encoding.Encoding // nil for UTF-8
}

// IsUTF8 reports whether bytes can be used without transcoding.
func (e Encoding) IsUTF8() bool {
	return e.enc == nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ResolveEncoding looks up name in the WHATWG encoding index.
func ResolveEncoding(name string) (Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultEncoding
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return Encoding{}, domain.NewConfigError(fmt.Sprintf("unknown encoding %q", name))
	}

	canonical, err := htmlindex.Name(enc)
	if err == nil && canonical == "utf-8" {
		return Encoding{Name: canonical}, nil
	}
	return Encoding{Name: name, enc: enc}, nil
}

// readText reads all of r and transcodes it to UTF-8. UTF-8 input is passed
// through untouched so invalid sequences surface during cleaning.
func readText(r io.Reader, enc Encoding) (string, error) {
	if !enc.IsUTF8() {
		r = transform.NewReader(r, enc.enc.NewDecoder())
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", domain.NewExtractionIOError(fmt.Sprintf("failed to read %s text", enc.Name), err)
	}
	return string(bytes.TrimPrefix(b, utf8BOM)), nil
}
