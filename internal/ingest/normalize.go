package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var spaceRe = regexp.MustCompile(`\s+`)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
)

// NormalizeContent turns a feed description into clean plain text: CDATA
// wrappers are unwrapped, HTML is parsed and reduced to its text (which also
// decodes entities), and whitespace is collapsed.
func NormalizeContent(raw string) string {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "<![CDATA[") && strings.HasSuffix(content, "]]>") {
		content = strings.TrimSuffix(strings.TrimPrefix(content, "<![CDATA["), "]]>")
	}

	if looksLikeHTML(content) {
		// Pad tags so adjacent elements don't fuse into one word when the
		// markup is dropped.
		padded := strings.ReplaceAll(content, "<", " <")
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(padded)); err == nil {
			doc.Find("script, style").Remove()
			content = doc.Text()
		}
	} else {
		content = entityReplacer.Replace(content)
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(content, " "))
}

func looksLikeHTML(s string) bool {
	if !strings.Contains(s, "<") || !strings.Contains(s, ">") {
		return false
	}
	return strings.Contains(s, "</") || strings.Contains(s, "/>") ||
		strings.Contains(s, "<br") || strings.Contains(s, "<p")
}

// ClampText normalizes and truncates text for use inside a prompt.
func ClampText(raw string, maxRunes int) string {
	text := NormalizeContent(raw)
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "..."
}
