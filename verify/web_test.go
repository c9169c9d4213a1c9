package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thesevenths/agent-dev/llm"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
)

type fakeJudgeClient struct {
	response string
	err      error
	prompts  []string
}

func (c *fakeJudgeClient) Chat(_ context.Context, messages []llm.Message, _ ...llm.CallOption) (string, error) {
	c.prompts = append(c.prompts, messages[len(messages)-1].Content)
	return c.response, c.err
}

func judgeRecord() *rollout.Record {
	return &rollout.Record{
		RunID:    3,
		Problem:  "When did the first human land on the moon?",
		Response: "The first crewed landing was on July 20, 1969.",
	}
}

func TestWebJudge_Correct(t *testing.T) {
	client := &fakeJudgeClient{response: "EXPLANATION: The date matches.\nGRADE: CORRECT"}
	judge := NewWebJudge(client, &log.NoOpLogger{})

	score := judge.Verify(context.Background(), judgeRecord(), "July 20, 1969")
	assert.Equal(t, 1.0, score)
	assert.Contains(t, client.prompts[0], "QUESTION: When did the first human land on the moon?")
	assert.Contains(t, client.prompts[0], "CONTEXT: July 20, 1969")
}

func TestWebJudge_Incorrect(t *testing.T) {
	client := &fakeJudgeClient{response: "EXPLANATION: Wrong year.\nGRADE: INCORRECT"}
	judge := NewWebJudge(client, &log.NoOpLogger{})

	assert.Equal(t, 0.0, judge.Verify(context.Background(), judgeRecord(), "July 20, 1969"))
}

func TestWebJudge_BoldMarkersStripped(t *testing.T) {
	correct, explanation := ParseJudgment("**EXPLANATION:** It checks out.\n**GRADE:** **CORRECT**")
	assert.True(t, correct)
	assert.Equal(t, "It checks out.", explanation)
}

func TestWebJudge_UngradableScoresZero(t *testing.T) {
	client := &fakeJudgeClient{response: "I cannot decide."}
	judge := NewWebJudge(client, &log.NoOpLogger{})
	assert.Equal(t, 0.0, judge.Verify(context.Background(), judgeRecord(), "x"))
}

func TestWebJudge_ClientErrorScoresZero(t *testing.T) {
	client := &fakeJudgeClient{err: errors.New("upstream down")}
	judge := NewWebJudge(client, &log.NoOpLogger{})
	assert.Equal(t, 0.0, judge.Verify(context.Background(), judgeRecord(), "x"))
}

func TestCleanAnswer_FlattensHTML(t *testing.T) {
	answer := "<html><body><h1>Result</h1><p>July 20, 1969</p></body></html>"
	cleaned := CleanAnswer(answer)
	assert.Contains(t, cleaned, "July 20, 1969")
	assert.NotContains(t, cleaned, "<p>")
}

func TestCleanAnswer_PlainTextUntouched(t *testing.T) {
	assert.Equal(t, "just text", CleanAnswer("just text"))
}

func TestCleanAnswer_StripsStrayMarkup(t *testing.T) {
	cleaned := CleanAnswer(`the answer is <b>42</b> & nothing else`)
	assert.Contains(t, cleaned, "42")
	assert.Contains(t, cleaned, "& nothing else")
	assert.NotContains(t, cleaned, "<b>")
}
