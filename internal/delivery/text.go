package delivery

import (
	"html"
	"regexp"
	"strings"
)

var (
	dropBlocks = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	lineBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|tr|table)>`)
	anchors    = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText renders a plain-text alternative of an HTML body. Links keep
// their target as "label (url)".
func HTMLToText(body string) string {
	if body == "" {
		return ""
	}
	text := dropBlocks.ReplaceAllString(body, "")
	text = anchors.ReplaceAllStringFunc(text, func(m string) string {
		parts := anchors.FindStringSubmatch(m)
		label := strings.TrimSpace(anyTag.ReplaceAllString(parts[2], ""))
		if label == "" || label == parts[1] {
			return parts[1]
		}
		return label + " (" + parts[1] + ")"
	})
	text = lineBreaks.ReplaceAllString(text, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
