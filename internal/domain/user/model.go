package user

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "relay-bot-backend/internal/common/errors"
)

const (
	KeyPrefix       = "user:"
	threadKeyPrefix = "thread:"
)

// Profile is the snapshot of the Telegram identity taken when the record was
// last written.
type Profile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Record is the relay state of one end user. ThreadID is set iff the user has
// been verified at least once.
type Record struct {
	ThreadID int64    `json:"thread_id,omitempty"`
	IsBanned bool     `json:"is_banned"`
	Profile  *Profile `json:"user_info,omitempty"`
}

func (r *Record) HasThread() bool {
	return r != nil && r.ThreadID != 0
}

func Key(userID int64) string {
	return KeyPrefix + strconv.FormatInt(userID, 10)
}

func ThreadKey(threadID int64) string {
	return threadKeyPrefix + strconv.FormatInt(threadID, 10)
}

// IDFromKey parses the id out of a user:<id> key.
func IDFromKey(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return 0, fmt.Errorf("not a user key: %q", key)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func Encode(r *Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored record. key is used for error reporting.
func Decode(key, raw string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, apperrors.NewMalformedValueError(key, err)
	}
	if r.ThreadID < 0 {
		return nil, apperrors.NewMalformedValueError(key, fmt.Errorf("negative thread id %d", r.ThreadID))
	}
	return &r, nil
}

// DecodeThreadOwner parses the value of a thread:<id> key.
func DecodeThreadOwner(key, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		if err == nil {
			err = fmt.Errorf("non-positive user id %d", id)
		}
		return 0, apperrors.NewMalformedValueError(key, err)
	}
	return id, nil
}
