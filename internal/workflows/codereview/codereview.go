// Package codereview defines the automated code-review pipeline: parse
// the changeset from the webhook payload, hand it to the asynchronous
// analysis service (suspending until it reports back), then compose the
// review from the analysis results.
package codereview

import (
	"context"
	"fmt"
	"time"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

const (
	WorkflowType = "code_review"

	// AnalysisDoneEvent is delivered by the analysis service when it
	// finishes a task; the event key is the task id issued here.
	AnalysisDoneEvent = "analysis-completed"

	analysisTimeout = 30 * time.Minute
)

// Analyzer starts the asynchronous analysis of a changeset. Completion
// arrives later through the resume-event intake, not on this call.
type Analyzer interface {
	// StartAnalysis is idempotent per task id: re-requesting an already
	// started task must not start a second one.
	StartAnalysis(ctx context.Context, taskID string, files []ChangedFile) error
	// Results returns the findings of a completed task.
	Results(ctx context.Context, taskID string) ([]Finding, error)
}

// Reviewer posts the composed review back to the source-control host.
type Reviewer interface {
	PostReview(ctx context.Context, repo string, number int, summary string, findings []Finding) error
}

type ChangedFile struct {
	Path  string `json:"path"`
	Patch string `json:"patch"`
}

type Finding struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Comment  string `json:"comment"`
}

// Context is the pipeline context for a review job. Every field must
// survive a JSON round trip: a suspended job resumes, possibly in a
// different process, from exactly this data.
type Context struct {
	Repository string        `json:"repository"`
	PullNumber int           `json:"pull_number"`
	HeadSHA    string        `json:"head_sha"`
	Files      []ChangedFile `json:"files"`

	AnalysisID        string    `json:"analysis_id,omitempty"`
	AnalysisRequested bool      `json:"analysis_requested,omitempty"`
	Findings          []Finding `json:"findings,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	ReviewDone        bool      `json:"review_done,omitempty"`
}

// New builds the code-review pipeline over the given collaborators.
func New(analyzer Analyzer, reviewer Reviewer) pipeline.Pipeline {
	return &pipeline.Typed[Context]{
		Type: WorkflowType,
		Validate: func(c *Context) error {
			if c.Repository == "" {
				return faults.New(faults.KindValidation, "repository is required")
			}
			if c.PullNumber <= 0 {
				return faults.New(faults.KindValidation, "pull_number must be positive")
			}
			if c.HeadSHA == "" {
				return faults.New(faults.KindValidation, "head_sha is required")
			}
			return nil
		},
		StageList: []pipeline.TypedStage[Context]{
			{
				Name: "load-changeset",
				Run: func(ctx context.Context, c *Context) (*pipeline.SuspendSignal, error) {
					if len(c.Files) == 0 {
						return nil, faults.New(faults.KindBusinessRule,
							"pull request %s#%d has no reviewable changes",
							c.Repository, c.PullNumber)
					}
					return nil, nil
				},
			},
			{
				Name: "request-analysis",
				Run: func(ctx context.Context, c *Context) (*pipeline.SuspendSignal, error) {
					if c.AnalysisRequested {
						// Re-entry after the analysis event (or a retry past
						// the suspend point): the task is already running or
						// done, move on to collect its results.
						return nil, nil
					}

					// Deterministic task id: a retried run of this stage
					// re-requests the same task instead of starting a
					// duplicate.
					if c.AnalysisID == "" {
						c.AnalysisID = fmt.Sprintf("%s-%d-%s", c.Repository, c.PullNumber, c.HeadSHA)
					}

					if err := analyzer.StartAnalysis(ctx, c.AnalysisID, c.Files); err != nil {
						return nil, err
					}
					c.AnalysisRequested = true
					return &pipeline.SuspendSignal{
						EventType: AnalysisDoneEvent,
						EventKey:  c.AnalysisID,
						Timeout:   analysisTimeout,
					}, nil
				},
			},
			{
				Name: "collect-findings",
				Run: func(ctx context.Context, c *Context) (*pipeline.SuspendSignal, error) {
					if len(c.Findings) == 0 {
						findings, err := analyzer.Results(ctx, c.AnalysisID)
						if err != nil {
							return nil, err
						}
						c.Findings = findings
					}
					return nil, nil
				},
			},
			{
				Name: "compose-review",
				Run: func(ctx context.Context, c *Context) (*pipeline.SuspendSignal, error) {
					c.Summary = summarize(c.Findings)
					return nil, nil
				},
			},
			{
				Name: "post-review",
				Run: func(ctx context.Context, c *Context) (*pipeline.SuspendSignal, error) {
					if c.ReviewDone {
						return nil, nil
					}
					if err := reviewer.PostReview(ctx, c.Repository, c.PullNumber, c.Summary, c.Findings); err != nil {
						return nil, err
					}
					c.ReviewDone = true
					return nil, nil
				},
			},
		},
	}
}

func summarize(findings []Finding) string {
	if len(findings) == 0 {
		return "Automated review found no issues."
	}
	bySeverity := map[string]int{}
	for _, f := range findings {
		bySeverity[f.Severity]++
	}
	return fmt.Sprintf("Automated review found %d issue(s): %d critical, %d warning, %d info.",
		len(findings), bySeverity["critical"], bySeverity["warning"], bySeverity["info"])
}
