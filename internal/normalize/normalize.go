// Package normalize turns raw, noisy observations into ChatEvents.
package normalize

import (
	"strings"
	"time"
	"unicode/utf8"

	"livereply/internal/chat"
)

// DefaultMaxTextLen bounds event text. Anything longer is assumed to be an
// unrelated region of the page that was captured by accident.
const DefaultMaxTextLen = 200

// Normalizer is stateless; the zero value uses DefaultMaxTextLen.
type Normalizer struct {
	MaxTextLen int

	// now is used when an observation carries no timestamp.
	now func() time.Time
}

func New(maxTextLen int) Normalizer {
	return Normalizer{MaxTextLen: maxTextLen}
}

// Normalize returns the event for obs, or false when obs is noise
// (no text, or text over the sanity bound). Safe to call repeatedly.
func (n Normalizer) Normalize(obs chat.RawObservation) (chat.ChatEvent, bool) {
	text := joinParts(obs.Parts)
	if text == "" {
		return chat.ChatEvent{}, false
	}
	if utf8.RuneCountInString(text) > n.maxLen() {
		return chat.ChatEvent{}, false
	}

	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = n.clock()
	}

	return chat.ChatEvent{
		Kind:         kindOf(obs),
		Author:       chat.NormalizeSpace(obs.Author),
		Text:         text,
		PositionHint: strings.TrimSpace(obs.PositionHint),
		ObservedAt:   observedAt,
		Origin:       chat.Destination(strings.TrimSpace(string(obs.Origin))),
	}, true
}

func (n Normalizer) maxLen() int {
	if n.MaxTextLen <= 0 {
		return DefaultMaxTextLen
	}
	return n.MaxTextLen
}

func (n Normalizer) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func kindOf(obs chat.RawObservation) chat.EventKind {
	if k, ok := chat.ParseKind(obs.KindHint); ok {
		return k
	}
	if obs.Structured {
		return chat.KindUserChat
	}
	return chat.KindSystem
}

// joinParts concatenates text-bearing parts in encounter order.
// Image parts are dropped, repeated fragments are kept once, and emoji
// labels already contained in the text are skipped.
func joinParts(parts []chat.Part) string {
	seen := make(map[string]struct{}, len(parts))
	var body strings.Builder

	for _, p := range parts {
		switch p.Type {
		case chat.PartText, "":
		case chat.PartEmoji:
		default:
			continue
		}
		t := chat.NormalizeSpace(p.Text)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		if p.Type == chat.PartEmoji && strings.Contains(body.String(), t) {
			continue
		}
		seen[t] = struct{}{}
		if body.Len() > 0 {
			body.WriteByte(' ')
		}
		body.WriteString(t)
	}
	return body.String()
}
