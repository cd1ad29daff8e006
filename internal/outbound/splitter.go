package outbound

import "strings"

// DefaultChunkLimit bounds one send unit when the channel does not
// declare its own maximum.
const DefaultChunkLimit = 2000

// Split converts reply text into ordered send units. With auto-split off
// the text is returned as a single unit. With it on, text above the limit
// is split at paragraph boundaries first; an oversized paragraph falls
// back to line splits and finally to a hard split at the rune limit.
func Split(text string, limit int, autoSplit bool) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if !autoSplit {
		return []string{trimmed}
	}
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	return chunkParagraphs(trimmed, limit)
}

// chunkParagraphs splits at double newlines, packing paragraphs into
// units up to the rune limit.
func chunkParagraphs(text string, limit int) []string {
	if runeLen(text) <= limit {
		return []string{text}
	}
	paragraphs := strings.Split(text, "\n\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(paragraphs))
	bufLen := 0
	for _, para := range paragraphs {
		paraLen := runeLen(para)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 2
		}
		if bufLen+sepLen+paraLen <= limit {
			buf = append(buf, para)
			bufLen += sepLen + paraLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if paraLen <= limit {
			buf = append(buf, para)
			bufLen = paraLen
			continue
		}
		chunks = append(chunks, chunkLines(para, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n\n"))
	}
	return chunks
}

// chunkLines splits at single newlines, hard-splitting lines that still
// exceed the limit.
func chunkLines(text string, limit int) []string {
	if runeLen(text) <= limit {
		return []string{text}
	}
	lines := strings.Split(text, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}
