package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Legacy .ppt and .xls files are OLE2 compound documents. Files carrying
// those extensions are often OOXML underneath, so the container is sniffed
// before picking a reader.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func extractPresentation(ctx context.Context, r io.Reader, enc Encoding) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read presentation", err)
	}
	if bytes.HasPrefix(data, oleMagic) {
		stream, err := oleStream(data, "PowerPoint Document")
		if err != nil {
			return "", err
		}
		return pptText(stream), nil
	}
	return extractPptx(ctx, bytes.NewReader(data), enc)
}

func extractSpreadsheet(ctx context.Context, r io.Reader, enc Encoding) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to read workbook", err)
	}
	if bytes.HasPrefix(data, oleMagic) {
		stream, err := oleStream(data, "Workbook")
		if err != nil {
			return "", err
		}
		sheets, err := parseBIFF(stream)
		if err != nil {
			return "", err
		}
		sections := make([]string, 0, len(sheets))
		for _, s := range sheets {
			sections = append(sections, renderSheet(s.name, s.rows))
		}
		return strings.Join(sections, "\n\n"), nil
	}
	return extractWorkbook(ctx, bytes.NewReader(data), enc)
}

// oleStream returns the named top-level stream of a compound document.
func oleStream(data []byte, name string) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewExtractionIOError("failed to open compound document", err)
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != name {
			continue
		}
		stream, err := io.ReadAll(entry)
		if err != nil {
			return nil, domain.NewExtractionIOError(fmt.Sprintf("failed to read %s stream", name), err)
		}
		return stream, nil
	}
	return nil, domain.NewExtractionIOError(fmt.Sprintf("compound document has no %s stream", name), nil)
}

const (
	pptTextCharsAtom = 0x0FA0
	pptTextBytesAtom = 0x0FA8
)

// pptText walks the record tree of a PowerPoint Document stream and collects
// the text atoms in stream order. Container records are entered, other atoms
// skipped.
func pptText(stream []byte) string {
	var parts []string
	for off := 0; off+8 <= len(stream); {
		verInstance := binary.LittleEndian.Uint16(stream[off:])
		typ := binary.LittleEndian.Uint16(stream[off+2:])
		size := int(binary.LittleEndian.Uint32(stream[off+4:]))
		off += 8
		if verInstance&0x000F == 0x000F {
			continue
		}
		if size < 0 || off+size > len(stream) {
			break
		}
		body := stream[off : off+size]
		off += size

		var text string
		switch typ {
		case pptTextCharsAtom:
			text = decodeUTF16LE(body)
		case pptTextBytesAtom:
			text = decodeLatin1(body)
		default:
			continue
		}
		// Paragraphs inside a text atom are separated by carriage returns.
		text = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(text, "\r", "\n"), "\v", "\n"))
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeUTF16LE(b []byte) string {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// decodeLatin1 reads the compressed form of BIFF8 and PowerPoint strings:
// one byte per UTF-16 code unit with the high byte dropped.
func decodeLatin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

const (
	biffFormula    = 0x0006
	biffEOF        = 0x000A
	biffContinue   = 0x003C
	biffBoundSheet = 0x0085
	biffMulRK      = 0x00BD
	biffSST        = 0x00FC
	biffLabelSST   = 0x00FD
	biffNumber     = 0x0203
	biffLabel      = 0x0204
	biffBoolErr    = 0x0205
	biffString     = 0x0207
	biffRK         = 0x027E
	biffBOF        = 0x0809
)

var errTruncatedBIFF = errors.New("truncated BIFF record")

type biffSheet struct {
	name string
	rows [][]string
}

type biffRecord struct {
	offset int
	typ    uint16
	body   []byte
}

// parseBIFF reads the cell values of every worksheet in a BIFF8 workbook
// stream. Formatting is ignored; numbers use their shortest decimal form.
func parseBIFF(stream []byte) ([]biffSheet, error) {
	records, err := biffRecords(stream)
	if err != nil {
		return nil, domain.NewExtractionIOError("failed to read workbook", err)
	}

	sheetNames := map[int]string{}
	var sst []string
	for i, rec := range records {
		switch rec.typ {
		case biffBoundSheet:
			if len(rec.body) < 8 {
				return nil, domain.NewExtractionIOError("failed to read workbook", errTruncatedBIFF)
			}
			// Only worksheets (dt == 0) carry cells.
			if rec.body[5] != 0 {
				continue
			}
			sheetNames[int(binary.LittleEndian.Uint32(rec.body))] = shortString(rec.body[6:])
		case biffSST:
			chunks := [][]byte{rec.body}
			for _, next := range records[i+1:] {
				if next.typ != biffContinue {
					break
				}
				chunks = append(chunks, next.body)
			}
			sst = readSST(chunks)
		}
	}

	var (
		sheets  []biffSheet
		cells   map[[2]int]string
		current = -1
		pending *[2]int
	)
	flush := func() {
		if current >= 0 {
			sheets = append(sheets, biffSheet{name: sheetNames[current], rows: cellGrid(cells)})
		}
		current = -1
	}
	for _, rec := range records {
		if rec.typ == biffBOF {
			if _, ok := sheetNames[rec.offset]; ok {
				flush()
				current = rec.offset
				cells = map[[2]int]string{}
			}
			continue
		}
		if current < 0 {
			continue
		}

		b := rec.body
		switch rec.typ {
		case biffEOF:
			flush()
		case biffLabelSST:
			if len(b) >= 10 {
				if idx := int(binary.LittleEndian.Uint32(b[6:])); idx < len(sst) {
					cells[cellAt(b)] = sst[idx]
				}
			}
		case biffLabel:
			if len(b) >= 9 {
				cells[cellAt(b)] = unicodeString(b[6:])
			}
		case biffNumber:
			if len(b) >= 14 {
				cells[cellAt(b)] = formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(b[6:])))
			}
		case biffRK:
			if len(b) >= 10 {
				cells[cellAt(b)] = formatNumber(rkValue(binary.LittleEndian.Uint32(b[6:])))
			}
		case biffMulRK:
			if len(b) >= 6 {
				row := int(binary.LittleEndian.Uint16(b))
				col := int(binary.LittleEndian.Uint16(b[2:]))
				for off := 4; off+6 <= len(b)-2; off += 6 {
					cells[[2]int{row, col}] = formatNumber(rkValue(binary.LittleEndian.Uint32(b[off+2:])))
					col++
				}
			}
		case biffBoolErr:
			if len(b) >= 8 && b[7] == 0 {
				cells[cellAt(b)] = strings.ToUpper(strconv.FormatBool(b[6] != 0))
			}
		case biffFormula:
			if len(b) < 14 {
				continue
			}
			at := cellAt(b)
			if binary.LittleEndian.Uint16(b[12:]) != 0xFFFF {
				cells[at] = formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(b[6:])))
			} else if b[6] == 0 {
				// The string result follows in a STRING record.
				pending = &at
			}
		case biffString:
			if pending != nil {
				cells[*pending] = unicodeString(b)
				pending = nil
			}
		}
	}
	flush()
	return sheets, nil
}

func biffRecords(stream []byte) ([]biffRecord, error) {
	var out []biffRecord
	for off := 0; off+4 <= len(stream); {
		typ := binary.LittleEndian.Uint16(stream[off:])
		size := int(binary.LittleEndian.Uint16(stream[off+2:]))
		if off+4+size > len(stream) {
			return nil, errTruncatedBIFF
		}
		out = append(out, biffRecord{offset: off, typ: typ, body: stream[off+4 : off+4+size]})
		off += 4 + size
	}
	return out, nil
}

func cellAt(b []byte) [2]int {
	return [2]int{int(binary.LittleEndian.Uint16(b)), int(binary.LittleEndian.Uint16(b[2:]))}
}

func cellGrid(cells map[[2]int]string) [][]string {
	if len(cells) == 0 {
		return nil
	}
	keys := make([][2]int, 0, len(cells))
	maxRow := 0
	for k := range cells {
		keys = append(keys, k)
		maxRow = max(maxRow, k[0])
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	rows := make([][]string, maxRow+1)
	for _, k := range keys {
		row := rows[k[0]]
		for len(row) <= k[1] {
			row = append(row, "")
		}
		row[k[1]] = cells[k]
		rows[k[0]] = row
	}
	return rows
}

func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// shortString decodes a ShortXLUnicodeString: 1-byte length, flags, chars.
func shortString(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	return biffChars(b[2:], int(b[0]), b[1]&0x01 != 0)
}

// unicodeString decodes an XLUnicodeString: 2-byte length, flags, chars.
func unicodeString(b []byte) string {
	if len(b) < 3 {
		return ""
	}
	return biffChars(b[3:], int(binary.LittleEndian.Uint16(b)), b[2]&0x01 != 0)
}

func biffChars(b []byte, n int, wide bool) string {
	width := 1
	if wide {
		width = 2
	}
	end := min(n*width, len(b))
	end -= end % width
	if wide {
		return decodeUTF16LE(b[:end])
	}
	return decodeLatin1(b[:end])
}

// sstReader walks the shared string table across its CONTINUE records. A
// string whose characters cross into a CONTINUE record restates its width
// flag in the first byte of that record.
type sstReader struct {
	chunks [][]byte
	chunk  int
	pos    int
}

func (r *sstReader) done() bool {
	return r.chunk >= len(r.chunks)
}

// atBoundary reports whether the next byte starts a new CONTINUE record.
func (r *sstReader) atBoundary() bool {
	return !r.done() && r.pos >= len(r.chunks[r.chunk])
}

func (r *sstReader) advance() {
	for r.atBoundary() {
		r.chunk++
		r.pos = 0
	}
}

func (r *sstReader) readByte() byte {
	r.advance()
	if r.done() {
		return 0
	}
	b := r.chunks[r.chunk][r.pos]
	r.pos++
	return b
}

func (r *sstReader) readUint16() uint16 {
	lo := r.readByte()
	return uint16(lo) | uint16(r.readByte())<<8
}

func (r *sstReader) readUint32() uint32 {
	lo := r.readUint16()
	return uint32(lo) | uint32(r.readUint16())<<16
}

func (r *sstReader) skip(n int) {
	for ; n > 0 && !r.done(); n-- {
		r.readByte()
	}
}

func (r *sstReader) readString() string {
	n := int(r.readUint16())
	flags := r.readByte()
	wide := flags&0x01 != 0
	var runs, ext int
	if flags&0x08 != 0 {
		runs = int(r.readUint16())
	}
	if flags&0x04 != 0 {
		ext = int(r.readUint32())
	}

	units := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		if r.atBoundary() {
			r.advance()
			if r.done() {
				break
			}
			wide = r.readByte()&0x01 != 0
		}
		if r.done() {
			break
		}
		if wide {
			units = append(units, r.readUint16())
		} else {
			units = append(units, uint16(r.readByte()))
		}
	}
	r.skip(4*runs + ext)

	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return decodeUTF16LE(buf)
}

func readSST(chunks [][]byte) []string {
	if len(chunks) == 0 || len(chunks[0]) < 8 {
		return nil
	}
	r := &sstReader{chunks: chunks}
	r.readUint32()
	unique := int(r.readUint32())

	out := make([]string, 0, min(unique, 1<<16))
	for i := 0; i < unique; i++ {
		r.advance()
		if r.done() {
			break
		}
		out = append(out, r.readString())
	}
	return out
}
