// Package critique extracts the critic's structured verdict from free text.
//
// The critic is prompted to answer with <advice>…</advice> and
// <score>…</score> tags. Providers do not always comply, so absence of
// either tag is a recoverable default rather than an error: a zero score
// routes the loop into another iteration, which is always safe.
package critique

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	scoreRe  = regexp.MustCompile(`<score>\s*(\d+)\s*</score>`)
	adviceRe = regexp.MustCompile(`(?s)<advice>(.*?)</advice>`)
)

// Verdict is a parsed critic response.
type Verdict struct {
	// Score is the 0-10 rating. Missing or unparsable scores yield 0.
	Score int

	// Advice is the critic's revision guidance, empty when absent.
	Advice string
}

// Parse scans text for the score and advice tags. It never fails.
func Parse(text string) Verdict {
	var v Verdict

	if m := scoreRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			v.Score = n
		}
	}
	if m := adviceRe.FindStringSubmatch(text); m != nil {
		v.Advice = strings.TrimSpace(m[1])
	}
	return v
}
