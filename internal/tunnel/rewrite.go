// ABOUTME: Ordered URL rewrite rules applied before upstream dispatch.
// ABOUTME: First matching pattern replaces the URL; later rules never run.

package tunnel

import (
	"fmt"
	"regexp"

	"github.com/2389/tunnelgate/internal/config"
)

// rewriteRule is one compiled pattern → replacement pair.
type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// compileRules compiles the configured rewrite rules, preserving order.
func compileRules(rules []config.RewriteRule) ([]rewriteRule, error) {
	compiled := make([]rewriteRule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d (%q): %w", i, r.Pattern, err)
		}
		compiled = append(compiled, rewriteRule{
			pattern:     re,
			replacement: r.Replacement,
		})
	}
	return compiled, nil
}

// applyRules rewrites u with the first matching rule. Rules after the
// first match do not apply.
func applyRules(rules []rewriteRule, u string) string {
	for _, r := range rules {
		if r.pattern.MatchString(u) {
			return r.pattern.ReplaceAllString(u, r.replacement)
		}
	}
	return u
}
