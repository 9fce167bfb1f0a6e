// Package chat holds the data model shared by the reply pipeline.
//
// Values flow one way:
//
//	RawObservation -> ChatEvent -> ReplyIntent -> ReplyJob
//
// Everything except ReplyJob is immutable once built.
package chat

import (
	"strings"
	"time"
)

// Destination identifies where a reply is delivered (browser tab, Twitch channel, page target...).
// The empty destination is invalid; jobs addressed to it are dropped.
type Destination string

func (d Destination) Valid() bool { return strings.TrimSpace(string(d)) != "" }

type PartType string

const (
	PartText  PartType = "text"
	PartEmoji PartType = "emoji"
	PartImage PartType = "image"
)

// Part is one fragment of an observed chat item.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	Src  string   `json:"src,omitempty"`
}

// RawObservation is what a source saw. It may be duplicated, partial or reordered.
type RawObservation struct {
	Parts []Part `json:"parts"`

	// Structured is set when the source found a structured chat container
	// (author + comment body). Unstructured items are system notices.
	Structured bool `json:"structured,omitempty"`
	// KindHint overrides the structural guess when the source knows better ("system" | "chat").
	KindHint string `json:"kind,omitempty"`

	Author       string      `json:"user,omitempty"`
	PositionHint string      `json:"idx,omitempty"`
	Origin       Destination `json:"origin,omitempty"`
	ObservedAt   time.Time   `json:"ts,omitempty"`
}

// TextObservation is a convenience constructor for single-fragment observations.
func TextObservation(text string, origin Destination) RawObservation {
	return RawObservation{
		Parts:      []Part{{Type: PartText, Text: text}},
		Origin:     origin,
		ObservedAt: time.Now(),
	}
}

type EventKind int

const (
	KindSystem EventKind = iota
	KindUserChat
)

func (k EventKind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindUserChat:
		return "chat"
	default:
		return "unknown"
	}
}

// ParseKind maps a config/source string onto an EventKind.
func ParseKind(s string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system", "notice":
		return KindSystem, true
	case "chat", "user", "userchat":
		return KindUserChat, true
	default:
		return KindSystem, false
	}
}

// ChatEvent is a normalized, single logical occurrence. Text is never empty.
type ChatEvent struct {
	Kind         EventKind
	Author       string
	Text         string
	PositionHint string
	ObservedAt   time.Time
	Origin       Destination
}

// Scope controls how long an identity key suppresses repeats.
type Scope string

const (
	// ScopeWindow suppresses repeats within the dedup window.
	ScopeWindow Scope = "window"
	// ScopeSession suppresses repeats for the life of the session.
	ScopeSession Scope = "session"
)

// ReplyIntent is a decision to reply. IdentityKey depends only on the semantic content
// of the match, never on ObservedAt or PositionHint.
type ReplyIntent struct {
	IdentityKey string
	ReplyText   string
	Rule        string
	Scope       Scope
}

type JobState int

const (
	JobPending JobState = iota
	JobInFlight
	JobDelivered
	JobExpired
	JobDropped
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobInFlight:
		return "in_flight"
	case JobDelivered:
		return "delivered"
	case JobExpired:
		return "expired"
	case JobDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobDelivered || s == JobExpired || s == JobDropped
}

// ReplyJob is owned by the delivery scheduler from enqueue to a terminal state.
type ReplyJob struct {
	ID          string
	IdentityKey string
	ReplyText   string
	Destination Destination
	EnqueuedAt  time.Time
	Attempts    int
	State       JobState
}
