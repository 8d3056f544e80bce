package htmltext

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	blockTags   = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6]|table)>|<br\s*/?>`)
	cellTags    = regexp.MustCompile(`(?i)</t[dh]>`)
	skipBlocks  = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
)

// Flatten converts an HTML email body into plain text suitable for the
// extractor. Block boundaries become newlines so amounts and line items
// keep their visual grouping.
func Flatten(htmlBody string) string {
	text := skipBlocks.ReplaceAllString(htmlBody, " ")
	text = blockTags.ReplaceAllString(text, "\n")
	text = cellTags.ReplaceAllString(text, " ")
	text = stripPolicy.Sanitize(text)
	text = html.UnescapeString(text)

	// Collapse runs of spaces but keep line structure.
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
