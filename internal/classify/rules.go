package classify

// RuleConfig is the config-file form of a rule.
//
// Patterns are Go regexps matched against the normalized event text; named
// groups "name" and "count" become template parameters. Key and Reply are
// templates over {name}, {count} and {author} (the event author).
type RuleConfig struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"` // "system" | "chat"
	Patterns []string `json:"patterns"`
	Key      string   `json:"key"`
	Reply    string   `json:"reply"`
	Scope    string   `json:"scope,omitempty"` // "window" (default) | "session"
}

// DefaultRules is the built-in table, in evaluation order.
//
// System notices come in two shapes: the English form and the Korean form the
// live platform renders. Both map onto the same key space, so a notice seen in
// either language collapses to one identity.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:     "enter",
			Kind:     "system",
			Patterns: []string{`^(?P<name>.+?)\s+(?:entered|joined)(?:\s+the\s+(?:room|chat|live))?[.!]?$`},
			Key:      "enter:{name}",
			Reply:    "Welcome {name}! Make yourself at home 🙌",
		},
		{
			Name:     "enter.ko",
			Kind:     "system",
			Patterns: []string{`^(?P<name>.+?)님이\s*입장(?:하였|하셨|했)습니다[.!]?$`},
			Key:      "enter:{name}",
			Reply:    "어서오세요 {name}님 🙌 편하게 놀다 가세요!",
		},
		{
			Name:     "likeClick",
			Kind:     "system",
			Patterns: []string{`^(?P<name>.+?)\s+(?:clicked|pressed|tapped)\s+like[.!]?$`},
			Key:      "likeClick:{name}",
			Reply:    "Thanks for the like, {name} 💖",
		},
		{
			Name:     "likeClick.ko",
			Kind:     "system",
			Patterns: []string{`^(?P<name>.+?)님이\s*좋아요(?:를)?\s*(?:누르셨어요|눌렀어요)[.!]?$`},
			Key:      "likeClick:{name}",
			Reply:    "{name}님 좋아요 감사합니다 💖",
		},
		{
			Name:     "likeN",
			Kind:     "system",
			Patterns: []string{`^(?P<name>.+?)\s+liked\s+(?P<count>\d+)\s+times?[.!]?$`},
			Key:      "likeN:{name}:{count}",
			Reply:    "❣️ {name}, thank you for {count} likes ❣️",
		},
		{
			Name: "likeN.ko",
			Kind: "system",
			Patterns: []string{
				`^(?P<name>.+?)\s+좋아요\s+(?P<count>\d+)\s*개\s*'?$`,
				`^(?P<name>.+?)님이\s*좋아요\s*(?P<count>\d+)\s*개(?:를)?\s*누르셨어요[.!]?$`,
			},
			Key:   "likeN:{name}:{count}",
			Reply: "❣️ {name}님 좋아요 {count}개 감사합니다 ❣️",
		},
		{
			Name:     "greet",
			Kind:     "chat",
			Patterns: []string{`(?i)(?:^|[\s,.!?~])(?:hi|hello|hey|안녕하세요|안녕|하이)(?:$|[\s,.!?~])`},
			Key:      "greet:{author}",
			Reply:    "Hi {author}, welcome to the stream!",
			Scope:    "session",
		},
		{
			Name:     "likeChat",
			Kind:     "chat",
			Patterns: []string{`(?i)(?:\blikes?\b|♥|❤|💖|💕|하트|좋아요)`},
			Key:      "likeChat",
			Reply:    "Thanks for the love 💕",
		},
	}
}
