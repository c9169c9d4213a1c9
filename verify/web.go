package verify

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/thesevenths/agent-dev/llm"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
)

const webJudgeTemplate = `You are a teacher grading a quiz.
You are given a question, the context the question is about, and the student's answer. You are asked to score the student's answer as either CORRECT or INCORRECT, based on the context.
Write out in a step by step manner your reasoning to be sure that your conclusion is correct. Avoid simply stating the correct answer at the outset.

Example Format:
QUESTION: question here
CONTEXT: context the question is about here
STUDENT ANSWER: student's answer here
EXPLANATION: step by step reasoning here
GRADE: CORRECT or INCORRECT here

Grade the student answers based ONLY on their factual accuracy. Ignore differences in punctuation and phrasing between the student answer and true answer. It is OK if the student answer contains more information than the true answer, as long as it does not contain any conflicting statements. Begin!

QUESTION: {problem}
CONTEXT: {answer}
STUDENT ANSWER: {response}`

var (
	gradePattern       = regexp.MustCompile(`(?i)GRADE:\s*([A-Za-z]+)`)
	explanationPattern = regexp.MustCompile(`(?is)EXPLANATION:\s*(.*?)(?:\n\s*GRADE:|$)`)
	sanitizer          = bluemonday.StrictPolicy()
)

// WebJudge grades free-form answers with a judge model. A failed or
// ungradable judgment scores 0 so one bad call never blocks a batch.
type WebJudge struct {
	client llm.Client
	logger log.Logger
}

// NewWebJudge creates a judge over the given chat client
func NewWebJudge(client llm.Client, logger log.Logger) *WebJudge {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &WebJudge{client: client, logger: logger}
}

// Verify implements the rollout verify contract
func (j *WebJudge) Verify(ctx context.Context, record *rollout.Record, groundtruth string) float64 {
	prompt := strings.NewReplacer(
		"{problem}", record.Problem,
		"{answer}", groundtruth,
		"{response}", CleanAnswer(record.Response),
	).Replace(webJudgeTemplate)

	response, err := j.client.Chat(ctx, llm.Prompt(prompt))
	if err != nil {
		j.logger.Warn("judge call failed for run %d: %v", record.RunID, err)
		return 0
	}

	grade, _ := ParseJudgment(response)
	if grade {
		return 1
	}
	return 0
}

// ParseJudgment extracts the GRADE verdict and the EXPLANATION from a
// judge response. Bold markers are stripped first since judge models like
// to emphasize their verdicts.
func ParseJudgment(response string) (correct bool, explanation string) {
	cleaned := strings.ReplaceAll(response, "**", "")
	if match := explanationPattern.FindStringSubmatch(cleaned); match != nil {
		explanation = strings.TrimSpace(match[1])
	}
	if match := gradePattern.FindStringSubmatch(cleaned); match != nil {
		correct = strings.EqualFold(match[1], "CORRECT")
	}
	return correct, explanation
}

// CleanAnswer flattens HTML a web agent may have echoed into its answer
// and strips any remaining markup before the text reaches the judge.
func CleanAnswer(answer string) string {
	flattened := flattenHTML(answer)
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(flattened)))
}

func flattenHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	text := strings.TrimSpace(doc.Text())
	if text == "" {
		return s
	}
	return text
}
