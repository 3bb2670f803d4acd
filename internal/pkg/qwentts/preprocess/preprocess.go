package preprocess

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	emailRe      = regexp.MustCompile(`\S+@\S+\.\S+`)
	// RE2 has no backreferences, so spell out `([!?.,])\1+` per character.
	repeatPunct = regexp.MustCompile(`!!+|\?\?+|\.\.+|,,+`)
)

// Clean normalizes text before it reaches the tokenizer. The model handles
// numbers and abbreviations itself, so this only strips markup and smooths
// typography.
func Clean(text string) string {
	text = norm.NFC.String(text)
	text = urlRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	// Collapse before the replacer runs so its "..." expansion survives.
	text = repeatPunct.ReplaceAllStringFunc(text, func(m string) string { return m[:1] })
	text = normalizeQuotes(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return text
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"–", "-",
	"—", "-",
	"…", "...",
)

func normalizeQuotes(text string) string {
	return quoteReplacer.Replace(text)
}
