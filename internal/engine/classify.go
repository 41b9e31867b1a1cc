package engine

import (
	"fmt"
	"regexp"
)

// Classifier decides whether a URL is an origin-internal (restricted) resource
// or an ordinary externally fetchable one.
type Classifier struct {
	patterns []*regexp.Regexp
}

func NewClassifier(patterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("restricted pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

func (c *Classifier) Restricted(url string) bool {
	for _, re := range c.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
