// Package verify scores rollout responses against reference answers.
// The math verifier compares extracted final answers symbolically enough
// for numeric work; the web verifier delegates grading to a judge model.
package verify

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/thesevenths/agent-dev/rollout"
)

// Math grades a response by extracting its final answer and comparing it
// to the reference, first textually and then numerically. Returns 1 or 0.
func Math(_ context.Context, record *rollout.Record, groundtruth string) float64 {
	answer := ExtractFinalAnswer(record.Response)
	if answer == "" {
		return 0
	}
	if AnswersMatch(answer, groundtruth) {
		return 1
	}
	return 0
}

var answerLinePattern = regexp.MustCompile(`(?i)answer:\s*(.+)`)

// ExtractFinalAnswer pulls the model's final answer out of a response:
// the last \boxed{...} if any, otherwise the last "Answer: ..." line,
// otherwise the last number in the text.
func ExtractFinalAnswer(response string) string {
	if boxed := lastBoxed(response); boxed != "" {
		return boxed
	}
	if matches := answerLinePattern.FindAllStringSubmatch(response, -1); len(matches) > 0 {
		return strings.TrimSpace(matches[len(matches)-1][1])
	}
	if number := lastNumber(response); number != "" {
		return number
	}
	return ""
}

// lastBoxed returns the content of the last \boxed{...}, tracking brace
// depth so nested braces survive.
func lastBoxed(s string) string {
	const marker = `\boxed{`
	start := strings.LastIndex(s, marker)
	if start < 0 {
		return ""
	}
	depth := 1
	for i := start + len(marker); i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start+len(marker) : i]
			}
		}
	}
	return ""
}

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?(?:/\d+)?`)

func lastNumber(s string) string {
	matches := numberPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

// AnswersMatch compares two answers after normalization, falling back to
// numeric comparison so "1,002", "1002.0" and "2004/2" all agree.
func AnswersMatch(answer, groundtruth string) bool {
	a := normalizeAnswer(answer)
	g := normalizeAnswer(groundtruth)
	if a == "" || g == "" {
		return false
	}
	if strings.EqualFold(a, g) {
		return true
	}
	av, aok := parseNumeric(a)
	gv, gok := parseNumeric(g)
	if aok && gok {
		return math.Abs(av-gv) < 1e-9
	}
	return false
}

var normalizeReplacer = strings.NewReplacer(
	`\left`, "", `\right`, "",
	`\!`, "", `\,`, "", `\;`, "",
	"$", "", " ", "",
)

func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	if boxed := lastBoxed(s); boxed != "" {
		s = boxed
	}
	s = normalizeReplacer.Replace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.Trim(s, "{}")
	// thousands separators only, "1,002" not "1, 2"
	if numberPattern.FindString(s) == s {
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

// parseNumeric reads a decimal, an integer, or an a/b fraction
func parseNumeric(s string) (float64, bool) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}
