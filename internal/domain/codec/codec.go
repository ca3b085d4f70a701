// Package codec holds the encodings of scalar values kept in the durable store.
// Every decoder rejects values it does not recognise with MALFORMED_VALUE.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "relay-bot-backend/internal/common/errors"
)

func EncodeBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// DecodeBool accepts "1"/"0" and the legacy "true"/"false".
func DecodeBool(key, raw string) (bool, error) {
	switch strings.TrimSpace(raw) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, apperrors.NewMalformedValueError(key, fmt.Errorf("unexpected boolean %q", raw))
}

func EncodeInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func DecodeInt(key, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, apperrors.NewMalformedValueError(key, err)
	}
	return v, nil
}
