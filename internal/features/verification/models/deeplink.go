package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type deepLinkPayload struct {
	UID string `json:"uid"`
	Bot string `json:"bot"`
	TS  int64  `json:"ts"`
}

// BuildPayload encodes the startapp parameter handed to the verification web app.
func BuildPayload(userID int64, botUsername string, now time.Time) (string, error) {
	b, err := json.Marshal(deepLinkPayload{
		UID: strconv.FormatInt(userID, 10),
		Bot: botUsername,
		TS:  now.UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeepLink returns https://t.me/<bot>/<webapp>?startapp=<payload>.
func DeepLink(centralBot, webApp string, userID int64, botUsername string, now time.Time) (string, error) {
	payload, err := BuildPayload(userID, botUsername, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://t.me/%s/%s?startapp=%s", centralBot, webApp, payload), nil
}
