package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "relay-bot-backend/internal/common/errors"
)

const (
	pendingPrefix = "verify_pending:"
	gbanPrefix    = "gban:"

	PendingTTL = 180 * time.Second
)

type ChallengeType string

const (
	ChallengeMath    ChallengeType = "math"
	ChallengeSticker ChallengeType = "sticker"
)

// PendingState is an outstanding local challenge. Ans is set for math only.
type PendingState struct {
	Type ChallengeType `json:"type"`
	Ans  *int          `json:"ans,omitempty"`
}

func PendingKey(userID int64) string {
	return pendingPrefix + strconv.FormatInt(userID, 10)
}

func GlobalBanKey(userID int64) string {
	return gbanPrefix + strconv.FormatInt(userID, 10)
}

func EncodePending(p PendingState) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodePending(key, raw string) (*PendingState, error) {
	var p PendingState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperrors.NewMalformedValueError(key, err)
	}
	switch {
	case p.Type == ChallengeSticker:
	case p.Type == ChallengeMath && p.Ans != nil:
	default:
		return nil, apperrors.NewMalformedValueError(key, fmt.Errorf("invalid challenge %q", p.Type))
	}
	return &p, nil
}

// Action is what the router must do after a verification step.
type Action int

const (
	// ActionVerified means the user passed and should be onboarded.
	ActionVerified Action = iota
	// ActionChallengeIssued means a challenge was just sent.
	ActionChallengeIssued
	// ActionFailed means the answer was wrong and the user is now banned.
	ActionFailed
	// ActionHint means the user must send /start to begin.
	ActionHint
)

func (a Action) String() string {
	switch a {
	case ActionVerified:
		return "verified"
	case ActionChallengeIssued:
		return "challenge_issued"
	case ActionFailed:
		return "failed"
	case ActionHint:
		return "hint"
	}
	return "unknown"
}

// Outcome carries the action and, for an issued challenge, the prompt to show.
type Outcome struct {
	Action Action
	Prompt string
}
