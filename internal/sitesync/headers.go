package sitesync

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// HeaderRule sets the Cache-Control header of every key matching Pattern.
// Order matters: first hit, first served.
type HeaderRule struct {
	Pattern      string `json:"pattern" mapstructure:"pattern"`
	CacheControl string `json:"cache_control" mapstructure:"cache_control"`
}

type headerRules []HeaderRule

func newHeaderRules(rules []HeaderRule) (headerRules, error) {
	for _, r := range rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("invalid cache-control pattern %q", r.Pattern)
		}
	}
	return headerRules(rules), nil
}

// cacheControl returns the value for key, or nil when no rule matches.
func (h headerRules) cacheControl(key string) *string {
	for _, r := range h {
		if doublestar.MatchUnvalidated(r.Pattern, key) {
			value := r.CacheControl
			return &value
		}
	}
	return nil
}
