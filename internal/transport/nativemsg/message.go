package nativemsg

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"livereply/internal/chat"
)

// Actions exchanged with the extension.
const (
	ActionChatEvent  = "CHAT_EVENT"
	ActionTyping     = "TYPING"
	ActionSendResult = "SEND_RESULT"
	ActionPing       = "PING"

	ActionAutoSend = "AUTO_SEND_CHAT"
	ActionPong     = "PONG"
	ActionHello    = "HELLO"
)

// Message is the envelope of every frame. Which fields are set depends on
// Action.
type Message struct {
	Action string `json:"action"`

	// Tab is the Chrome tab id the event came from or the reply goes to.
	Tab int `json:"tab,omitempty"`

	// CHAT_EVENT
	Val *ChatVal `json:"val,omitempty"`
	// TYPING: "start" | "end"
	State string `json:"state,omitempty"`

	// AUTO_SEND_CHAT / SEND_RESULT
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`

	// HELLO
	Version string `json:"version,omitempty"`
}

// ChatVal is one observed chat list item as the content script reports it.
type ChatVal struct {
	Kind  string      `json:"kind"`
	Ts    int64       `json:"ts,omitempty"` // unix millis
	User  string      `json:"user,omitempty"`
	Parts []chat.Part `json:"parts"`
	Idx   looseString `json:"idx,omitempty"`
}

// looseString accepts a JSON string, number or null.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// TabDestination names a tab as a reply destination.
func TabDestination(tab int) chat.Destination {
	return chat.Destination("tab:" + strconv.Itoa(tab))
}

// ParseTab reverses TabDestination. A bare number is accepted too.
func ParseTab(d chat.Destination) (int, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(string(d)), "tab:")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Observation converts a CHAT_EVENT.
func (m Message) Observation() (chat.RawObservation, bool) {
	if m.Val == nil {
		return chat.RawObservation{}, false
	}
	v := m.Val
	obs := chat.RawObservation{
		Parts:        v.Parts,
		Structured:   v.Kind == "chat",
		KindHint:     v.Kind,
		Author:       v.User,
		PositionHint: string(v.Idx),
		ObservedAt:   time.Now(),
	}
	if v.Ts > 0 {
		obs.ObservedAt = time.UnixMilli(v.Ts)
	}
	if m.Tab > 0 {
		obs.Origin = TabDestination(m.Tab)
	}
	return obs, true
}
