// Package evaluation fires canned queries at the agent and scores the
// replies with simple substring heuristics. It is batch analytics glue for
// regression checks, not a benchmark.
package evaluation

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/IvanShepeta/CRMconnector/internal/gateway"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
)

// TestCase is one canned query with the substrings a correct reply should
// contain (matched case-insensitively).
type TestCase struct {
	ID                 string   `json:"id"`
	Query              string   `json:"query"`
	Category           string   `json:"category"`
	ExpectedSubstrings []string `json:"expected_substrings"`
}

// Result captures the outcome of a single test case.
type Result struct {
	TestID   string        `json:"test_id"`
	Query    string        `json:"query"`
	Response string        `json:"response"`
	Score    float64       `json:"score"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Report aggregates all results.
type Report struct {
	Timestamp       time.Time     `json:"timestamp"`
	TotalTests      int           `json:"total_tests"`
	PassedTests     int           `json:"passed_tests"`
	FailedTests     int           `json:"failed_tests"`
	AverageScore    float64       `json:"average_score"`
	AverageDuration time.Duration `json:"average_duration"`
	Results         []Result      `json:"results"`
}

// Evaluator runs test cases against anything that can stream replies.
type Evaluator struct {
	agent         gateway.Streamer
	cases         []TestCase
	passThreshold float64
	userID        string
}

// EvalOption customises an Evaluator.
type EvalOption func(*Evaluator)

// WithPassThreshold overrides the minimum score (fraction of expected
// substrings found) counted as a pass. Default 0.7.
func WithPassThreshold(t float64) EvalOption {
	return func(e *Evaluator) { e.passThreshold = t }
}

// WithUserID overrides the synthetic user the queries run as.
func WithUserID(id string) EvalOption {
	return func(e *Evaluator) { e.userID = id }
}

func NewEvaluator(agent gateway.Streamer, cases []TestCase, opts ...EvalOption) *Evaluator {
	e := &Evaluator{
		agent:         agent,
		cases:         cases,
		passThreshold: 0.7,
		userID:        "evaluation",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every test case sequentially and returns the report. A
// failed case is recorded, never fatal.
func (e *Evaluator) Run(ctx context.Context) *Report {
	report := &Report{
		Timestamp:  time.Now().UTC(),
		TotalTests: len(e.cases),
		Results:    make([]Result, 0, len(e.cases)),
	}

	var totalScore float64
	var totalDuration time.Duration
	for _, tc := range e.cases {
		res := e.runCase(ctx, tc)
		if res.Passed {
			report.PassedTests++
		} else {
			report.FailedTests++
		}
		totalScore += res.Score
		totalDuration += res.Duration
		report.Results = append(report.Results, res)

		logx.Info().
			Str("test_id", tc.ID).
			Str("category", tc.Category).
			Bool("passed", res.Passed).
			Float64("score", res.Score).
			Dur("duration", res.Duration).
			Msg("evaluation case finished")
	}

	if len(e.cases) > 0 {
		report.AverageScore = totalScore / float64(len(e.cases))
		report.AverageDuration = totalDuration / time.Duration(len(e.cases))
	}
	return report
}

func (e *Evaluator) runCase(ctx context.Context, tc TestCase) Result {
	start := time.Now()
	res := Result{TestID: tc.ID, Query: tc.Query}

	reply, err := e.collect(ctx, tc.Query)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	res.Response = reply
	res.Score = Score(reply, tc.ExpectedSubstrings)
	res.Passed = res.Score >= e.passThreshold
	return res
}

func (e *Evaluator) collect(ctx context.Context, query string) (string, error) {
	sr, err := e.agent.StreamReply(ctx, e.userID, query)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var b strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// Score returns the fraction of expected substrings present in the reply.
// No expectations means a free pass.
func Score(reply string, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	lower := strings.ToLower(reply)
	matched := 0
	for _, want := range expected {
		if strings.Contains(lower, strings.ToLower(want)) {
			matched++
		}
	}
	return float64(matched) / float64(len(expected))
}

// DefaultTestCases covers the consultant's core behaviors: topic search,
// catalog overview and code lookup.
func DefaultTestCases() []TestCase {
	return []TestCase{
		{
			ID:                 "search-python",
			Query:              "Are there any Python courses right now?",
			Category:           "search",
			ExpectedSubstrings: []string{"python"},
		},
		{
			ID:                 "catalog-overview",
			Query:              "What courses do you offer?",
			Category:           "catalog",
			ExpectedSubstrings: []string{"course"},
		},
		{
			ID:                 "course-details",
			Query:              "Tell me more about the course with code PY-101",
			Category:           "details",
			ExpectedSubstrings: []string{"py-101"},
		},
	}
}
