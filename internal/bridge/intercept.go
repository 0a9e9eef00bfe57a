package bridge

import (
	"regexp"
	"strings"
)

// Rules reported by a Decision that was not decided by a blacklist pattern.
const (
	RuleSafeURL   = "safe-url"
	RuleLocalFile = "local-file"
)

// Decision is the verdict for one intercepted request. Rule names what
// decided it: a blacklist pattern when blocked, RuleSafeURL or RuleLocalFile
// for an exemption, empty when nothing matched.
type Decision struct {
	Allow bool
	Rule  string
}

type blockPattern struct {
	raw string
	re  *regexp.Regexp
}

// InterceptPolicy decides which paused requests may continue. A blacklist
// match blocks unless the URL is safe-listed or is a file:// URL in (or
// below) the directory of the page being loaded.
type InterceptPolicy struct {
	safe     map[string]struct{}
	patterns []blockPattern
	localDir string
}

// NewInterceptPolicy builds the policy for a navigation to target (empty for
// inline documents).
func NewInterceptPolicy(target string, safeURLs, blacklist []string) *InterceptPolicy {
	p := &InterceptPolicy{safe: make(map[string]struct{}, len(safeURLs))}
	for _, u := range safeURLs {
		p.safe[u] = struct{}{}
	}
	for _, raw := range blacklist {
		if raw == "" {
			continue
		}
		p.patterns = append(p.patterns, blockPattern{raw: raw, re: compileGlob(raw)})
	}
	if hasPrefixFold(target, "file://") {
		if i := strings.LastIndex(target, "/"); i >= 0 {
			p.localDir = target[:i+1]
		}
	}
	return p
}

// compileGlob turns a URL pattern where * matches any run of characters into
// an anchored, case-insensitive expression. Every other character, including
// ?, is literal.
func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("(?is)^" + strings.Join(parts, ".*") + "$")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Match returns the first blacklist pattern u matches.
func (p *InterceptPolicy) Match(u string) (string, bool) {
	for _, bp := range p.patterns {
		if bp.re.MatchString(u) {
			return bp.raw, true
		}
	}
	return "", false
}

// Active reports whether requests need to be intercepted at all.
func (p *InterceptPolicy) Active() bool {
	return len(p.patterns) > 0
}

func (p *InterceptPolicy) Decide(u string) Decision {
	if _, ok := p.safe[u]; ok {
		return Decision{Allow: true, Rule: RuleSafeURL}
	}
	if p.localDir != "" && hasPrefixFold(u, "file://") && hasPrefixFold(u, p.localDir) {
		return Decision{Allow: true, Rule: RuleLocalFile}
	}
	if rule, ok := p.Match(u); ok {
		return Decision{Allow: false, Rule: rule}
	}
	return Decision{Allow: true}
}
