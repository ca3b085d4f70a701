// Package htmlsafe restricts owner supplied HTML to the subset accepted by
// Telegram's HTML parse mode.
package htmlsafe

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func telegramPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del",
			"code", "pre", "blockquote", "tg-spoiler")
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^tg-spoiler$`)).OnElements("span")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
		p.RequireParseableURLs(true)
		p.AllowURLSchemes("http", "https", "tg", "mailto")
		policy = p
	})
	return policy
}

// Sanitize drops tags and attributes Telegram would reject and escapes the rest.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}
	return telegramPolicy().Sanitize(input)
}
