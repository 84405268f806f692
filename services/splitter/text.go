package splitter

import (
	"regexp"
	"strings"
	"unicode"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// chunkText splits text on blank lines and packs paragraphs into chunks of at
// most size runes. Paragraphs longer than size are cut at whitespace where
// possible.
func chunkText(text string, size int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		curLen = 0
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range hardSplit(para, size) {
			n := len([]rune(piece))
			if curLen > 0 && curLen+2+n > size {
				flush()
			}
			if curLen > 0 {
				current.WriteString("\n\n")
				curLen += 2
			}
			current.WriteString(piece)
			curLen += n
		}
	}
	flush()
	return chunks
}

func hardSplit(s string, size int) []string {
	runes := []rune(s)
	if len(runes) <= size {
		return []string{s}
	}
	var out []string
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = runes[cut:]
	}
	if piece := strings.TrimSpace(string(runes)); piece != "" {
		out = append(out, piece)
	}
	return out
}
