// Package secrets detects credentials in free text and redacts them.
//
// Task titles and reasons are typed by people and forwarded to the
// messaging service verbatim, so they occasionally carry tokens or
// passwords pasted by mistake. Findings never include the matched value.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool
	// Rules defines the detection rules.
	Rules []Rule
	// RedactionString replaces detected secrets. Empty means DefaultRedaction.
	RedactionString string
	// AllowList holds patterns whose matches are left alone.
	AllowList []string
}

// Rule is one detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords, when set, must appear (case-insensitively) somewhere in the
	// text for the rule to run.
	Keywords []string
}

// Finding is one detected secret.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rule ids that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]struct{}, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}

// DefaultConfig returns an enabled config with DefaultRules.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Rules:           DefaultRules(),
		RedactionString: DefaultRedaction,
	}
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// Scrubber redacts secrets. It is immutable and safe for concurrent use.
type Scrubber struct {
	enabled   bool
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{enabled: cfg.Enabled, redaction: cfg.RedactionString}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}
	if !cfg.Enabled {
		return s, nil
	}

	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := compiledRule{id: rule.ID, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		s.rules = append(s.rules, cr)
	}

	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// MustDefault returns a Scrubber with DefaultConfig. The default rules
// always compile.
func MustDefault() *Scrubber {
	s, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts every match of every rule. Overlapping matches collapse
// into a single redaction.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Scrubbed: content}
	if s == nil || !s.enabled || content == "" {
		return res
	}

	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{RuleID: rule.id, Start: m[0], End: m[1]})
		}
	}
	if len(res.Findings) == 0 {
		return res
	}

	spans := merge(res.Findings)
	out := make([]byte, 0, len(content))
	last := 0
	for _, sp := range spans {
		out = append(out, content[last:sp.Start]...)
		out = append(out, s.redaction...)
		last = sp.End
	}
	out = append(out, content[last:]...)
	res.Scrubbed = string(out)
	return res
}

func (r compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge returns the findings' spans sorted by start with overlapping or
// adjacent spans joined.
func merge(findings []Finding) []Finding {
	spans := append([]Finding(nil), findings...)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	merged := spans[:1]
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}
