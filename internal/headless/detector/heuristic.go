// Package detector recognizes anti-automation challenge pages served by mirrors.
package detector

import (
	"bytes"
	"strings"
)

// DefaultChallengePhrases are the interstitial texts used by the common
// browser-verification walls in front of mirror instances.
var DefaultChallengePhrases = []string{
	"Verifying your browser",
	"Just a moment",
	"Checking your browser",
}

// Challenge matches rendered markup against a fixed phrase list.
type Challenge struct {
	phrases [][]byte
}

// NewChallenge creates a detector. An empty list selects DefaultChallengePhrases.
func NewChallenge(phrases []string) *Challenge {
	if len(phrases) == 0 {
		phrases = DefaultChallengePhrases
	}
	c := &Challenge{phrases: make([][]byte, 0, len(phrases))}
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		c.phrases = append(c.phrases, []byte(p))
	}
	return c
}

// Detect reports whether html contains any challenge phrase. Matching is
// literal and case-sensitive.
func (c *Challenge) Detect(html string) bool {
	body := []byte(html)
	for _, phrase := range c.phrases {
		if bytes.Contains(body, phrase) {
			return true
		}
	}
	return false
}

// Phrase returns the first matching phrase, or "" when none matches.
func (c *Challenge) Phrase(html string) string {
	body := []byte(html)
	for _, phrase := range c.phrases {
		if bytes.Contains(body, phrase) {
			return string(phrase)
		}
	}
	return ""
}
