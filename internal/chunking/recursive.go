package chunking

import (
	"strings"
	"unicode/utf8"
)

func splitRecursive(text string, separators []string, size, overlap int) []string {
	return withOverlap(recursivePieces(text, separators, size), overlap)
}

// recursivePieces returns pieces no longer than size runes. It prefers the
// first separator whose pieces all fit; otherwise it splits on the first
// separator present and recurses into oversized pieces with the remaining
// separators, hard-cutting once none are left.
func recursivePieces(text string, separators []string, size int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	for _, sep := range separators {
		if sep == "" || !strings.Contains(text, sep) {
			continue
		}
		parts := nonBlank(strings.Split(text, sep))
		if allFit(parts, size) {
			return pack(parts, sep, size)
		}
	}

	for i, sep := range separators {
		if sep == "" || !strings.Contains(text, sep) {
			continue
		}

		var out, run []string
		for _, part := range nonBlank(strings.Split(text, sep)) {
			if utf8.RuneCountInString(part) <= size {
				run = append(run, part)
				continue
			}
			out = append(out, pack(run, sep, size)...)
			run = nil
			out = append(out, recursivePieces(part, separators[i+1:], size)...)
		}
		return append(out, pack(run, sep, size)...)
	}

	return hardCut(text, size)
}

// pack greedily joins consecutive parts with sep while the result fits.
func pack(parts []string, sep string, size int) []string {
	var out []string
	var cur string
	curLen := 0
	sepLen := utf8.RuneCountInString(sep)

	for _, p := range parts {
		pl := utf8.RuneCountInString(p)
		if curLen == 0 {
			cur, curLen = p, pl
			continue
		}
		if curLen+sepLen+pl <= size {
			cur += sep + p
			curLen += sepLen + pl
			continue
		}
		out = append(out, cur)
		cur, curLen = p, pl
	}
	if curLen > 0 {
		out = append(out, cur)
	}
	return out
}

func hardCut(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// withOverlap prefixes every piece after the first with the last overlap runes
// of the piece before it.
func withOverlap(pieces []string, overlap int) []string {
	if overlap == 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := []rune(pieces[i-1])
		k := overlap
		if k > len(prev) {
			k = len(prev)
		}
		out[i] = string(prev[len(prev)-k:]) + pieces[i]
	}
	return out
}

func nonBlank(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func allFit(parts []string, size int) bool {
	for _, p := range parts {
		if utf8.RuneCountInString(p) > size {
			return false
		}
	}
	return true
}
