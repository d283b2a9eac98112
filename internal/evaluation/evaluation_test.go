package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedStreamer replies with a fixed string per query.
type cannedStreamer struct {
	replies map[string]string
	err     error
}

func (s *cannedStreamer) StreamReply(_ context.Context, _, message string) (*schema.StreamReader[string], error) {
	if s.err != nil {
		return nil, s.err
	}
	return schema.StreamReaderFromArray([]string{s.replies[message]}), nil
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected []string
		want     float64
	}{
		{"all matched", "We offer Python and Go courses", []string{"python", "go"}, 1.0},
		{"half matched", "We offer Python courses", []string{"python", "kubernetes"}, 0.5},
		{"none matched", "Nothing here", []string{"python"}, 0.0},
		{"no expectations", "anything", nil, 1.0},
		{"case insensitive", "PYTHON available", []string{"python"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.reply, tt.expected), 1e-9)
		})
	}
}

func TestEvaluator_Run(t *testing.T) {
	agent := &cannedStreamer{replies: map[string]string{
		"q1": "Yes, we have a Python course, code PY-101.",
		"q2": "I do not know.",
	}}
	cases := []TestCase{
		{ID: "t1", Query: "q1", ExpectedSubstrings: []string{"python", "py-101"}},
		{ID: "t2", Query: "q2", ExpectedSubstrings: []string{"kubernetes"}},
	}

	report := NewEvaluator(agent, cases).Run(context.Background())

	assert.Equal(t, 2, report.TotalTests)
	assert.Equal(t, 1, report.PassedTests)
	assert.Equal(t, 1, report.FailedTests)
	assert.InDelta(t, 0.5, report.AverageScore, 1e-9)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Passed)
	assert.False(t, report.Results[1].Passed)
}

func TestEvaluator_AgentFailureIsRecorded(t *testing.T) {
	agent := &cannedStreamer{err: errors.New("agent down")}
	cases := []TestCase{{ID: "t1", Query: "q1", ExpectedSubstrings: []string{"python"}}}

	report := NewEvaluator(agent, cases).Run(context.Background())

	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Passed)
	assert.Equal(t, "agent down", report.Results[0].Err)
	assert.Equal(t, 1, report.FailedTests)
}

func TestEvaluator_PassThreshold(t *testing.T) {
	agent := &cannedStreamer{replies: map[string]string{"q": "Python only"}}
	cases := []TestCase{{ID: "t", Query: "q", ExpectedSubstrings: []string{"python", "go"}}}

	strict := NewEvaluator(agent, cases).Run(context.Background())
	assert.Equal(t, 0, strict.PassedTests, "0.5 score fails the default 0.7 threshold")

	lenient := NewEvaluator(agent, cases, WithPassThreshold(0.5)).Run(context.Background())
	assert.Equal(t, 1, lenient.PassedTests)
}

func TestEvaluator_EmptyCaseList(t *testing.T) {
	report := NewEvaluator(&cannedStreamer{}, nil).Run(context.Background())
	assert.Zero(t, report.TotalTests)
	assert.Zero(t, report.AverageScore)
}
