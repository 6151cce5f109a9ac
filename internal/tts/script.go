package tts

import (
	"regexp"
	"strings"
)

// Chunk size thresholds, in runes. Synthesis quality degrades sharply on
// long inputs, so chunks are cut at natural pauses well before the backend's
// hard limit.
const (
	sentenceSplitLen = 50
	clauseSplitLen   = 300
	forcedSplitLen   = 500
)

var (
	markdownLinkRe = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	codeBlockRe    = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe   = regexp.MustCompile("`[^`]*`")
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
	htmlEntityRe   = regexp.MustCompile(`&[a-zA-Z]+;|&#[0-9]+;`)
	citationRe     = regexp.MustCompile(`[（(][^（）()]*[)）]`)
	headingRe      = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	spaceRunRe     = regexp.MustCompile(`[ \t]+`)
	blankLineRe    = regexp.MustCompile(`\n{3,}`)
)

// CleanScript strips everything a narrator must not read aloud: markdown
// markup, links and images, code, raw HTML, and parenthesized source
// citations. Line structure survives because splitChunks keys on it.
func CleanScript(text string) string {
	text = codeBlockRe.ReplaceAllString(text, " ")
	text = inlineCodeRe.ReplaceAllString(text, " ")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = htmlEntityRe.ReplaceAllString(text, " ")
	text = citationRe.ReplaceAllString(text, "")
	text = headingRe.ReplaceAllString(text, "")
	for _, marker := range []string{"**", "__", "*", "~~"} {
		text = strings.ReplaceAll(text, marker, "")
	}

	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankLineRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isClauseEnd(r rune) bool {
	switch r {
	case '，', '；', ',', ';':
		return true
	}
	return false
}

// splitChunks cuts cleaned text into synthesis-sized pieces. Newlines always
// split; sentence terminators split once a chunk passes sentenceSplitLen;
// clause punctuation splits past clauseSplitLen; forcedSplitLen cuts
// unconditionally.
func splitChunks(text string) []string {
	var chunks []string
	var current []rune

	flush := func() {
		s := strings.TrimSpace(string(current))
		if s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	for _, r := range text {
		if r == '\n' {
			flush()
			continue
		}
		current = append(current, r)
		n := len(current)
		switch {
		case isSentenceEnd(r) && n > sentenceSplitLen:
			flush()
		case isClauseEnd(r) && n > clauseSplitLen:
			flush()
		case n >= forcedSplitLen:
			flush()
		}
	}
	flush()
	return chunks
}
