package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// Telegram limits
	MaxMessageLength   = 4096
	MaxTopicNameLength = 128
	MaxButtonTextLen   = 64
)

// ParseUserID parses a positive Telegram user id given as a command argument.
func ParseUserID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("user id cannot be empty")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user id must be numeric: %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("user id must be positive")
	}
	return id, nil
}

// ParseOffset parses a broadcast continuation offset.
func ParseOffset(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("offset cannot be empty")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("offset must be a non-negative integer: %q", raw)
	}
	return n, nil
}

// ValidateMessageText checks text the owner wants the bot to send.
func ValidateMessageText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return fmt.Errorf("text cannot exceed %d characters", MaxMessageLength)
	}
	return nil
}

// TopicName builds a forum topic title from the user's first name.
func TopicName(firstName string, userID int64) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		return fmt.Sprintf("User %d", userID)
	}
	if utf8.RuneCountInString(name) > MaxTopicNameLength {
		name = string([]rune(name)[:MaxTopicNameLength])
	}
	return name
}
