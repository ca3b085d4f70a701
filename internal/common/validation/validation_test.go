package validation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(" 12345 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), id)

	for _, bad := range []string{"", "abc", "-5", "0", "12a"} {
		_, err := ParseUserID(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOffset(t *testing.T) {
	n, err := ParseOffset("500")
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	n, err = ParseOffset("0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseOffset("-1")
	assert.Error(t, err)
	_, err = ParseOffset("x")
	assert.Error(t, err)
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText("hello"))
	assert.Error(t, ValidateMessageText("   "))
	assert.Error(t, ValidateMessageText(strings.Repeat("я", MaxMessageLength+1)))
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "Ann", TopicName("  Ann ", 5))
	assert.Equal(t, "User 5", TopicName("", 5))

	long := TopicName(strings.Repeat("ж", 200), 5)
	assert.Equal(t, MaxTopicNameLength, utf8.RuneCountInString(long))
	assert.True(t, utf8.ValidString(long))
}
