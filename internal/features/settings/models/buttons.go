package models

import (
	"regexp"
	"strings"

	"relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/validation"
	"relay-bot-backend/internal/platform/telegram"
)

const MaxWelcomeButtons = 3

var buttonSeparator = regexp.MustCompile(`\s-\s`)

// ParseButtons reads "text - url | text - url , text - url": a comma starts a new
// row and a pipe adds to the current row. Items without both parts are skipped;
// at most MaxWelcomeButtons are kept.
func ParseButtons(input string) ([][]telegram.InlineKeyboardButton, error) {
	var (
		rows  [][]telegram.InlineKeyboardButton
		count int
	)

	for _, line := range strings.Split(input, ",") {
		if count >= MaxWelcomeButtons {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		var row []telegram.InlineKeyboardButton
		for _, item := range strings.Split(line, "|") {
			if count >= MaxWelcomeButtons {
				break
			}
			text, url, ok := splitButton(item)
			if !ok {
				continue
			}
			row = append(row, telegram.InlineKeyboardButton{Text: text, URL: url})
			count++
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, errors.New(errors.ErrCodeMalformedButtons, "No valid buttons found").
			WithDetail("input", input)
	}
	return rows, nil
}

func splitButton(item string) (string, string, bool) {
	var text, url string
	if loc := buttonSeparator.FindStringIndex(item); loc != nil {
		text = item[:loc[0]]
		url = item[loc[1]:]
	} else {
		idx := strings.LastIndex(item, "-")
		if idx < 0 {
			return "", "", false
		}
		text = item[:idx]
		url = item[idx+1:]
	}

	text = strings.TrimSpace(text)
	url = strings.TrimSpace(url)
	if text == "" || url == "" || !isButtonURL(url) {
		return "", "", false
	}
	if len([]rune(text)) > validation.MaxButtonTextLen {
		text = string([]rune(text)[:validation.MaxButtonTextLen])
	}
	return text, url, true
}

func isButtonURL(u string) bool {
	for _, scheme := range []string{"https://", "http://", "tg://"} {
		if strings.HasPrefix(strings.ToLower(u), scheme) && len(u) > len(scheme) {
			return true
		}
	}
	return false
}
