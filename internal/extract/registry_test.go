package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRegistry_UnsupportedExtension(t *testing.T) {
	r := NewRegistry()

	_, err := r.Extract(context.Background(), strings.NewReader("MZ"), ".exe", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeUnsupportedFormat, domain.ErrorCode(err))
	assert.False(t, r.Supports(".exe"))
}

func TestRegistry_ExtensionIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supports(".TXT"))
	assert.True(t, r.Supports("md"))

	text, err := r.Extract(context.Background(), strings.NewReader("hello"), "TXT", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestRegistry_Extensions(t *testing.T) {
	exts := NewRegistry().Extensions()

	for _, ext := range []string{".txt", ".md", ".docx", ".pptx", ".ppt", ".pdf", ".csv", ".xlsx", ".xls", ".html", ".xml", ".epub"} {
		assert.Contains(t, exts, ext)
	}
	assert.IsIncreasing(t, exts)
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register(ExtractorFunc(func(context.Context, io.Reader, Encoding) (string, error) {
		return "custom", nil
	}), ".log")

	text, err := r.Extract(context.Background(), strings.NewReader("ignored"), ".log", "")
	require.NoError(t, err)
	assert.Equal(t, "custom", text)
}

func TestRegistry_UnknownEncoding(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), strings.NewReader("x"), ".txt", "klingon-8")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeConfig, domain.ErrorCode(err))
}

func TestRegistry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRegistry().Extract(ctx, strings.NewReader("x"), ".txt", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExtractionIO, domain.ErrorCode(err))
}

func TestExtractText_Encodings(t *testing.T) {
	r := NewRegistry()

	text, err := r.Extract(context.Background(), bytes.NewReader([]byte("caf\xe9")), ".txt", "windows-1252")
	require.NoError(t, err)
	assert.Equal(t, "café", text)

	text, err = r.Extract(context.Background(), bytes.NewReader([]byte("\xEF\xBB\xBFbom")), ".txt", "utf-8")
	require.NoError(t, err)
	assert.Equal(t, "bom", text)
}

func TestExtractText_InvalidUTF8PassesThrough(t *testing.T) {
	raw := []byte{0xff, 'a'}
	text, err := NewRegistry().Extract(context.Background(), bytes.NewReader(raw), ".txt", "")
	require.NoError(t, err)
	assert.Equal(t, string(raw), text)
}

func TestExtractText_PreservesLength(t *testing.T) {
	in := strings.Repeat("Hello world. ", 500)
	text, err := NewRegistry().Extract(context.Background(), strings.NewReader(in), ".txt", "")
	require.NoError(t, err)
	assert.Equal(t, in, text)
}

func TestExtractMarkdown_KeepsVisibleText(t *testing.T) {
	src := "# Guide\n\nRead the **manual** at [the site](https://example.com).\n"
	text, err := NewRegistry().Extract(context.Background(), strings.NewReader(src), ".md", "")
	require.NoError(t, err)

	assert.Contains(t, text, "Guide")
	assert.Contains(t, text, "manual")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "https://example.com")
}

func TestExtractCSV_RendersRows(t *testing.T) {
	src := "name,role\nAda,engineer\nGrace,admiral\n"
	text, err := NewRegistry().Extract(context.Background(), strings.NewReader(src), ".csv", "")
	require.NoError(t, err)
	assert.Equal(t, "name: Ada\nrole: engineer\n\nname: Grace\nrole: admiral", text)
}

func TestExtractCSV_SingleRowIsKept(t *testing.T) {
	text, err := NewRegistry().Extract(context.Background(), strings.NewReader("total,42,approved\n"), ".csv", "")
	require.NoError(t, err)
	assert.Equal(t, "column 1: total\ncolumn 2: 42\ncolumn 3: approved", text)
}

func TestExtractWorkbook_SingleRowSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "summary"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", 7))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	text, err := NewRegistry().Extract(context.Background(), bytes.NewReader(buf.Bytes()), ".xlsx", "")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1\ncolumn 1: summary\ncolumn 2: 7", text)
}

func TestExtractCSV_ReadFailure(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), iotest.ErrReader(errors.New("disk gone")), ".csv", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExtractionIO, domain.ErrorCode(err))
}

func TestRenderTable(t *testing.T) {
	assert.Equal(t, "", renderTable(nil))
	assert.Equal(t, "column 1: only\ncolumn 2: headers", renderTable([][]string{{"only", "headers"}}))
	assert.Equal(t, "", renderTable([][]string{{"", " "}}))

	rows := [][]string{
		{"a", ""},
		{"1", "2", "3"},
		{"", ""},
		{"4"},
	}
	assert.Equal(t, "a: 1\ncolumn 2: 2\ncolumn 3: 3\n\na: 4", renderTable(rows))
}

func TestExtractWorkbook_RendersSheets(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "city"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "population"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Lyon"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 513000))
	_, err := f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Notes", "A1", "note"))
	require.NoError(t, f.SetCellValue("Notes", "A2", "draft"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	text, err := NewRegistry().Extract(context.Background(), bytes.NewReader(buf.Bytes()), ".xlsx", "")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1\ncity: Lyon\npopulation: 513000\n\nNotes\nnote: draft", text)
}

func TestExtractWorkbook_Corrupt(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), strings.NewReader("not a workbook"), ".xls", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExtractionIO, domain.ErrorCode(err))
}

func TestExtractDocx_Corrupt(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), strings.NewReader("not a zip"), ".docx", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExtractionIO, domain.ErrorCode(err))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractEPUB_FollowsSpineOrder(t *testing.T) {
	data := buildZip(t, map[string]string{
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="c1" href="one.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="two.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine><itemref idref="c2"/><itemref idref="c1"/></spine>
</package>`,
		"OEBPS/one.xhtml": `<html><body><p>First chapter</p></body></html>`,
		"OEBPS/two.xhtml": `<html><body><p>Second chapter</p></body></html>`,
	})

	text, err := NewRegistry().Extract(context.Background(), bytes.NewReader(data), ".epub", "")
	require.NoError(t, err)

	second := strings.Index(text, "Second chapter")
	first := strings.Index(text, "First chapter")
	require.GreaterOrEqual(t, second, 0)
	require.GreaterOrEqual(t, first, 0)
	assert.Less(t, second, first)
}

func TestExtractEPUB_MissingContainer(t *testing.T) {
	data := buildZip(t, map[string]string{"mimetype": "application/epub+zip"})

	_, err := NewRegistry().Extract(context.Background(), bytes.NewReader(data), ".epub", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeExtractionIO, domain.ErrorCode(err))
}

func TestResolveEncoding(t *testing.T) {
	enc, err := ResolveEncoding("")
	require.NoError(t, err)
	assert.True(t, enc.IsUTF8())

	enc, err = ResolveEncoding("UTF8")
	require.NoError(t, err)
	assert.True(t, enc.IsUTF8())

	enc, err = ResolveEncoding("gbk")
	require.NoError(t, err)
	assert.False(t, enc.IsUTF8())
}
