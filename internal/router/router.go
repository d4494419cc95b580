// Package router classifies a user turn into a conversation route.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"ragchat/internal/domain"
)

// Rule maps a keyword pattern to a route. Rules are evaluated in order; the first match wins.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Route   domain.Route
}

// Keywords configures the built-in rule list.
type Keywords struct {
	Farewell []string `yaml:"farewell"`
	Greeting []string `yaml:"greeting"`
	Domain   []string `yaml:"domain"`
}

// DefaultKeywords returns the stock keyword lists.
func DefaultKeywords() Keywords {
	return Keywords{
		Farewell: []string{"bye", "goodbye", "exit", "quit", "see you"},
		Greeting: []string{"hi", "hello", "hey", "salam", "assalamualaikum", "good morning", "good evening"},
		Domain:   []string{"lmkr", "gverse", "geoscience", "seismic", "petrel", "reservoir", "petrophysics", "interpretation"},
	}
}

// Rules builds the ordered rule list: farewell, greeting, domain.
// The domain rule resolves to the same route as the default; it names the
// match so decisions stay inspectable and leaves room for per-domain routes.
func Rules(kw Keywords) ([]Rule, error) {
	specs := []struct {
		name  string
		words []string
		route domain.Route
	}{
		{"farewell", kw.Farewell, domain.RouteTerminate},
		{"greeting", kw.Greeting, domain.RouteDirectAnswer},
		{"domain", kw.Domain, domain.RouteRetrieve},
	}
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		if len(s.words) == 0 {
			continue
		}
		re, err := keywordPattern(s.words)
		if err != nil {
			return nil, fmt.Errorf("router: rule %s: %w", s.name, err)
		}
		rules = append(rules, Rule{Name: s.name, Pattern: re, Route: s.route})
	}
	return rules, nil
}

func keywordPattern(words []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("no keywords")
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// DefaultRuleName labels decisions that matched no rule.
const DefaultRuleName = "default"

// Decision is the outcome of classifying a turn.
type Decision struct {
	Route domain.Route
	Rule  string
}

// Router is a pure function of the latest user turn over an ordered rule list.
type Router struct {
	rules []Rule
}

// New creates a Router over rules.
func New(rules []Rule) *Router {
	return &Router{rules: rules}
}

// Default returns a Router over the stock keyword lists.
func Default() *Router {
	rules, err := Rules(DefaultKeywords())
	if err != nil {
		panic(err)
	}
	return New(rules)
}

// Classify returns the route for text.
func (r *Router) Classify(text string) domain.Route {
	return r.Decide(text).Route
}

// Decide returns the route for text and the name of the rule that chose it.
func (r *Router) Decide(text string) Decision {
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(text) {
			return Decision{Route: rule.Route, Rule: rule.Name}
		}
	}
	return Decision{Route: domain.RouteRetrieve, Rule: DefaultRuleName}
}

// DecideLatest classifies the last message when it is a user turn; otherwise it defaults to retrieval.
func (r *Router) DecideLatest(messages []domain.Turn) Decision {
	if len(messages) == 0 || messages[len(messages)-1].Role != domain.RoleUser {
		return Decision{Route: domain.RouteRetrieve, Rule: DefaultRuleName}
	}
	return r.Decide(messages[len(messages)-1].Content)
}
