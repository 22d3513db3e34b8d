// Package filename turns announcement titles into names that are safe on
// every common filesystem.
package filename

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Reserved lists the ASCII characters no sanitized name may contain.
const Reserved = `\/:*?"<>|`

// MaxBytes caps a sanitized name, leaving room for the date/code prefix and
// extension under the usual 255-byte limit.
const MaxBytes = 180

// order matters: full-width punctuation is mapped to its preferred ASCII
// form before width folding would pick a different one.
var substitutions = strings.NewReplacer(
	" ", "",
	"*", "",
	"/", "-",
	`\`, "-",
	":", "-",
	"?", "-",
	`"`, "",
	"<", "",
	">", "",
	"|", "",
	"－", "-",
	"—", "-",
	"（", "(",
	"）", ")",
	"Ａ", "A",
	"Ｂ", "B",
	"Ｈ", "H",
	"，", ",",
	"。", ".",
	"：", "-",
	"！", "_",
	"？", "-",
	"“", `"`,
	"”", `"`,
	"‘", "",
	"’", "",
)

// Sanitize applies the substitution table, folds remaining full-width forms
// to ASCII, re-applies the table, strips control characters and trims the
// result to MaxBytes. An empty result becomes "untitled".
func Sanitize(name string) string {
	name = strings.ToValidUTF8(name, "")
	name = substitutions.Replace(name)

	chain := transform.Chain(norm.NFC, width.Fold, runes.Remove(runes.In(unicode.Cc)))
	folded, _, err := transform.String(chain, name)
	if err == nil {
		name = folded
	}

	name = substitutions.Replace(name)
	name = strings.Trim(name, ". \t")
	name = truncate(name, MaxBytes)

	if name == "" {
		return "untitled"
	}
	return name
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
