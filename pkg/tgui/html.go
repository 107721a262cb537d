package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H are treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link builds an HTML link.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// pairedTags are the Telegram HTML tags that must be balanced for a message
// to be accepted.
var pairedTags = []string{"b", "i", "u", "strong", "em", "code", "pre", "blockquote"}

// CloseTags appends the closing tags missing from user supplied markup.
//
// It counts exact "<tag>" and "</tag>" occurrences per tag and appends the
// difference, in the fixed tag order above. Attributes and nesting are not
// interpreted; the body is otherwise passed through untouched.
func CloseTags(s string) string {
	var b strings.Builder
	b.WriteString(s)
	for _, tag := range pairedTags {
		open := strings.Count(s, "<"+tag+">")
		closed := strings.Count(s, "</"+tag+">")
		for i := closed; i < open; i++ {
			b.WriteString("</" + tag + ">")
		}
	}
	return b.String()
}
