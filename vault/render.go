package vault

import (
	"bytes"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var wikiLink = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)

// RewriteLinks turns Dendron wiki links into portal links. Links into the
// portal hierarchy become /note/<ref>; other notes are shown in bold. A link
// without a label shows the last segment of the note name.
func RewriteLinks(md string) string {
	return wikiLink.ReplaceAllStringFunc(md, func(m string) string {
		sub := wikiLink.FindStringSubmatch(m)
		ref, label := strings.TrimSpace(sub[1]), strings.TrimSpace(sub[2])
		if label == "" {
			label = ref
			if i := strings.LastIndex(ref, "."); i >= 0 {
				label = ref[i+1:]
			}
		}
		if strings.HasPrefix(ref, Hierarchy) {
			return "[" + label + "](/note/" + url.PathEscape(ref) + ")"
		}
		return "**" + label + "**"
	})
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Render converts a note body to HTML after rewriting wiki links. Raw HTML in
// notes is omitted.
func Render(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(RewriteLinks(md)), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
