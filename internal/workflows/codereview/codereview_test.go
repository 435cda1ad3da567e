package codereview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	started  []string
	findings []Finding
	startErr error
}

func (a *fakeAnalyzer) StartAnalysis(ctx context.Context, taskID string, files []ChangedFile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.started = append(a.started, taskID)
	return nil
}

func (a *fakeAnalyzer) Results(ctx context.Context, taskID string) ([]Finding, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.findings, nil
}

type fakeReviewer struct {
	mu       sync.Mutex
	posted   int
	summary  string
	findings []Finding
}

func (r *fakeReviewer) PostReview(ctx context.Context, repo string, number int, summary string, findings []Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posted++
	r.summary = summary
	r.findings = findings
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payload() json.RawMessage {
	return json.RawMessage(`{
		"repository": "kodus/web",
		"pull_number": 42,
		"head_sha": "abc123",
		"files": [{"path": "main.go", "patch": "+x"}]
	}`)
}

func TestReviewSuspendsForAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	p := New(analyzer, &fakeReviewer{})
	pc, err := p.NewContext(payload())
	require.NoError(t, err)

	out := pipeline.NewExecutor(testLogger()).Run(context.Background(), p, pc, 0)

	require.Equal(t, pipeline.Suspended, out.Kind)
	assert.Equal(t, AnalysisDoneEvent, out.Suspend.EventType)
	assert.Equal(t, "kodus/web-42-abc123", out.Suspend.EventKey)
	assert.Equal(t, analysisTimeout, out.Suspend.Timeout)
	assert.Equal(t, []string{"kodus/web-42-abc123"}, analyzer.started)

	var snap Context
	require.NoError(t, json.Unmarshal(out.Snapshot, &snap))
	assert.True(t, snap.AnalysisRequested)
	assert.Equal(t, "kodus/web-42-abc123", snap.AnalysisID)
}

func TestReviewResumeCompletesAndPosts(t *testing.T) {
	analyzer := &fakeAnalyzer{findings: []Finding{
		{Path: "main.go", Line: 3, Severity: "critical", Comment: "nil deref"},
		{Path: "main.go", Line: 9, Severity: "warning", Comment: "unused var"},
	}}
	reviewer := &fakeReviewer{}
	p := New(analyzer, reviewer)

	// First run: park on the analysis event.
	pc, err := p.NewContext(payload())
	require.NoError(t, err)
	exec := pipeline.NewExecutor(testLogger())
	out := exec.Run(context.Background(), p, pc, 0)
	require.Equal(t, pipeline.Suspended, out.Kind)

	// Resume from the persisted snapshot at the suspended stage.
	resumed, err := p.RestoreContext(out.Snapshot)
	require.NoError(t, err)
	out = exec.Run(context.Background(), p, resumed, out.StageIndex)

	require.Equal(t, pipeline.Completed, out.Kind)
	require.Equal(t, 1, reviewer.posted)
	assert.Contains(t, reviewer.summary, "2 issue(s)")
	assert.Contains(t, reviewer.summary, "1 critical")
	assert.Len(t, reviewer.findings, 2)

	// The task is not re-requested on resume.
	assert.Equal(t, []string{"kodus/web-42-abc123"}, analyzer.started)
}

func TestReviewRejectsEmptyChangeset(t *testing.T) {
	p := New(&fakeAnalyzer{}, &fakeReviewer{})
	pc, err := p.NewContext(json.RawMessage(`{
		"repository": "kodus/web",
		"pull_number": 42,
		"head_sha": "abc123",
		"files": []
	}`))
	require.NoError(t, err)

	out := pipeline.NewExecutor(testLogger()).Run(context.Background(), p, pc, 0)

	require.Equal(t, pipeline.Failed, out.Kind)
	assert.Equal(t, faults.Permanent, faults.Classify(out.Err))
}

func TestReviewPropagatesAnalyzerFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{startErr: faults.Wrap(faults.KindUnavailable, errors.New("service down"))}
	p := New(analyzer, &fakeReviewer{})
	pc, err := p.NewContext(payload())
	require.NoError(t, err)

	out := pipeline.NewExecutor(testLogger()).Run(context.Background(), p, pc, 0)

	require.Equal(t, pipeline.Failed, out.Kind)
	assert.Equal(t, faults.Retryable, faults.Classify(out.Err))
}

func TestContextValidation(t *testing.T) {
	p := New(&fakeAnalyzer{}, &fakeReviewer{})

	cases := map[string]string{
		"missing repository":  `{"pull_number": 1, "head_sha": "a"}`,
		"missing pull number": `{"repository": "r", "head_sha": "a"}`,
		"missing head sha":    `{"repository": "r", "pull_number": 1}`,
	}
	for name, body := range cases {
		_, err := p.NewContext(json.RawMessage(body))
		require.Error(t, err, name)
		assert.Equal(t, faults.Permanent, faults.Classify(err), name)
	}
}

func TestSummarizeCountsBySeverity(t *testing.T) {
	assert.Equal(t, "Automated review found no issues.", summarize(nil))

	got := summarize([]Finding{
		{Severity: "critical"},
		{Severity: "warning"},
		{Severity: "warning"},
		{Severity: "info"},
	})
	assert.Equal(t, "Automated review found 4 issue(s): 1 critical, 2 warning, 1 info.", got)
}
