package models

import "fmt"

const (
	KeyWelcomeMessage = "config:welcome_msg"
	KeyWelcomeButtons = "config:welcome_buttons"
	KeyAutoReply      = "config:auto_reply_msg"
	KeyVerifyMode     = "config:verify_mode"
	KeyUnionBan       = "config:union_ban"
	KeyGroupID        = "config:group_id"
	KeyBotUsername    = "config:bot_username"
)

const (
	DefaultWelcomeMessage = "👋 Welcome! Send your message and our team will reply here."
	DefaultBotUsername    = "Bot"
)

type VerifyMode string

const (
	ModeOff     VerifyMode = "off"
	ModeMath    VerifyMode = "math"
	ModeSticker VerifyMode = "sticker"
	// ModeUnion is never stored; it is derived from the union ban switch.
	ModeUnion VerifyMode = "union"
)

var localModes = []VerifyMode{ModeOff, ModeMath, ModeSticker}

// ParseLocalMode accepts the values stored under config:verify_mode.
func ParseLocalMode(raw string) (VerifyMode, error) {
	for _, m := range localModes {
		if string(m) == raw {
			return m, nil
		}
	}
	return ModeOff, fmt.Errorf("unknown verification mode %q", raw)
}

// Next cycles off -> math -> sticker -> off.
func (m VerifyMode) Next() VerifyMode {
	for i, lm := range localModes {
		if lm == m {
			return localModes[(i+1)%len(localModes)]
		}
	}
	return ModeOff
}

func (m VerifyMode) IsLocalChallenge() bool {
	return m == ModeMath || m == ModeSticker
}

// Settings is a snapshot of the global configuration used to render the owner menu.
type Settings struct {
	WelcomeMessage    string
	HasCustomWelcome  bool
	HasWelcomeButtons bool
	AutoReply         string
	LocalMode         VerifyMode
	UnionBan          bool
	GroupID           int64
	BotUsername       string
}

// EffectiveMode is the verification mode applied to new users.
func (s *Settings) EffectiveMode() VerifyMode {
	if s.UnionBan {
		return ModeUnion
	}
	return s.LocalMode
}
