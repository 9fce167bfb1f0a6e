// Package classify maps ChatEvents onto reply intents using an ordered rule table.
//
// Classification is pure: the same event always yields the same intent, and
// the identity key depends only on the matched content (names and counts),
// never on when or where the event was observed.
package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"livereply/internal/chat"
)

var (
	ErrNoPatterns       = errors.New("classify: rule has no patterns")
	ErrEmptyKey         = errors.New("classify: rule key template is empty")
	ErrUnknownParameter = errors.New("classify: unknown template parameter")
)

// Config selects the rule table and the filters around it.
type Config struct {
	// Rules replaces DefaultRules when non-empty.
	Rules []RuleConfig
	// SelfNames are the bot's own display names. Events authored by them or
	// naming them produce no intent.
	SelfNames []string
	// UserChat enables rules that apply to user chat (the secondary flow).
	UserChat bool
}

type rule struct {
	name     string
	kind     chat.EventKind
	patterns []*regexp.Regexp
	key      string
	reply    string
	scope    chat.Scope
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	rules     []rule
	selfNames map[string]struct{}
	userChat  bool
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

var knownParams = map[string]struct{}{"name": {}, "count": {}, "author": {}}

// New compiles cfg. Every rule is validated; the first bad one is reported.
func New(cfg Config) (*Classifier, error) {
	src := cfg.Rules
	if len(src) == 0 {
		src = DefaultRules()
	}

	c := &Classifier{
		selfNames: make(map[string]struct{}, len(cfg.SelfNames)),
		userChat:  cfg.UserChat,
	}
	for _, n := range cfg.SelfNames {
		n = chat.NormalizeSpace(n)
		if n != "" {
			c.selfNames[n] = struct{}{}
		}
	}

	for i, rc := range src {
		r, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, rc.Name, err)
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// MustDefault returns a classifier over DefaultRules with only system rules enabled.
func MustDefault() *Classifier {
	c, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return c
}

func compileRule(rc RuleConfig) (rule, error) {
	name := strings.TrimSpace(rc.Name)
	if name == "" {
		return rule{}, errors.New("classify: rule name is empty")
	}
	kind, ok := chat.ParseKind(rc.Kind)
	if !ok {
		return rule{}, fmt.Errorf("classify: unknown kind %q", rc.Kind)
	}
	if len(rc.Patterns) == 0 {
		return rule{}, ErrNoPatterns
	}
	if strings.TrimSpace(rc.Key) == "" {
		return rule{}, ErrEmptyKey
	}
	for _, tpl := range []string{rc.Key, rc.Reply} {
		for _, m := range placeholderRe.FindAllStringSubmatch(tpl, -1) {
			if _, ok := knownParams[m[1]]; !ok {
				return rule{}, fmt.Errorf("%w: {%s}", ErrUnknownParameter, m[1])
			}
		}
	}

	scope := chat.ScopeWindow
	switch strings.ToLower(strings.TrimSpace(rc.Scope)) {
	case "", string(chat.ScopeWindow):
	case string(chat.ScopeSession):
		scope = chat.ScopeSession
	default:
		return rule{}, fmt.Errorf("classify: unknown scope %q", rc.Scope)
	}

	r := rule{name: name, kind: kind, key: rc.Key, reply: rc.Reply, scope: scope}
	for _, p := range rc.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return rule{}, fmt.Errorf("classify: compile %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.name)
	}
	return out
}

// Classify returns the intent of the first matching rule, or false.
func (c *Classifier) Classify(ev chat.ChatEvent) (chat.ReplyIntent, bool) {
	if ev.Kind == chat.KindUserChat && !c.userChat {
		return chat.ReplyIntent{}, false
	}
	if c.isSelf(ev.Author) {
		return chat.ReplyIntent{}, false
	}

	text := chat.NormalizeSpace(ev.Text)
	if text == "" {
		return chat.ReplyIntent{}, false
	}

	for _, r := range c.rules {
		if r.kind != ev.Kind {
			continue
		}
		params, ok := r.match(text)
		if !ok {
			continue
		}
		params["author"] = chat.NormalizeSpace(ev.Author)
		if c.isSelf(params["name"]) {
			return chat.ReplyIntent{}, false
		}

		key, ok := expand(r.key, params)
		if !ok {
			// A parameter the key depends on is empty; the match carries no identity.
			continue
		}
		reply, _ := expand(r.reply, params)
		return chat.ReplyIntent{
			IdentityKey: key,
			ReplyText:   reply,
			Rule:        r.name,
			Scope:       r.scope,
		}, true
	}
	return chat.ReplyIntent{}, false
}

func (c *Classifier) isSelf(name string) bool {
	if name == "" || len(c.selfNames) == 0 {
		return false
	}
	_, ok := c.selfNames[chat.NormalizeSpace(name)]
	return ok
}

func (r rule) match(text string) (map[string]string, bool) {
	for _, re := range r.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		params := map[string]string{}
		for i, g := range re.SubexpNames() {
			if g == "" || i >= len(m) {
				continue
			}
			params[g] = chat.NormalizeSpace(m[i])
		}
		return params, true
	}
	return nil, false
}

// expand substitutes {param} placeholders. It reports false when a referenced
// parameter is empty.
func expand(tpl string, params map[string]string) (string, bool) {
	ok := true
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		v := params[m[1:len(m)-1]]
		if v == "" {
			ok = false
		}
		return v
	})
	return out, ok
}
