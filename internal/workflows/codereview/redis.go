package codereview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

const (
	taskKeyPrefix   = "review:analysis:"
	resultKeySuffix = ":results"

	// taskTTL bounds how long a requested task and its results live in
	// Redis. Comfortably longer than the suspend timeout.
	taskTTL = 2 * time.Hour
)

// RedisAnalyzer hands analysis tasks to the external analysis service
// through Redis: tasks are parked under a well-known key the service
// watches, and the service writes findings back next to them before
// posting the completion event.
type RedisAnalyzer struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisAnalyzer(rdb *redis.Client, logger *slog.Logger) *RedisAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAnalyzer{rdb: rdb, logger: logger}
}

func (a *RedisAnalyzer) StartAnalysis(ctx context.Context, taskID string, files []ChangedFile) error {
	body, err := json.Marshal(files)
	if err != nil {
		return faults.Wrap(faults.KindValidation, fmt.Errorf("encode analysis task %s: %w", taskID, err))
	}

	// SetNX keeps the call idempotent: a resumed or retried stage that
	// re-requests an existing task leaves it untouched.
	created, err := a.rdb.SetNX(ctx, taskKeyPrefix+taskID, body, taskTTL).Result()
	if err != nil {
		return faults.Wrap(faults.KindUnavailable, fmt.Errorf("submit analysis task %s: %w", taskID, err))
	}
	if created {
		a.logger.Info("analysis task submitted", "task_id", taskID, "files", len(files))
	}
	return nil
}

func (a *RedisAnalyzer) Results(ctx context.Context, taskID string) ([]Finding, error) {
	raw, err := a.rdb.Get(ctx, taskKeyPrefix+taskID+resultKeySuffix).Bytes()
	if err == redis.Nil {
		// The resume event fired but the results are not visible yet.
		// Treat as transient so the attempt is retried with backoff.
		return nil, faults.New(faults.KindUnavailable, "analysis results for %s not available yet", taskID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindUnavailable, fmt.Errorf("fetch analysis results %s: %w", taskID, err))
	}

	var findings []Finding
	if err := json.Unmarshal(raw, &findings); err != nil {
		return nil, faults.Wrap(faults.KindValidation, fmt.Errorf("decode analysis results %s: %w", taskID, err))
	}
	return findings, nil
}

// PublishResults is the write side used by the analysis-service adapter:
// store the findings, then deliver the completion event.
func (a *RedisAnalyzer) PublishResults(ctx context.Context, taskID string, findings []Finding) error {
	body, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encode findings for %s: %w", taskID, err)
	}
	return a.rdb.Set(ctx, taskKeyPrefix+taskID+resultKeySuffix, body, taskTTL).Err()
}

// LogReviewer posts reviews to the log instead of a source-control
// host. Stands in until a provider adapter (GitHub, GitLab) is wired.
type LogReviewer struct {
	logger *slog.Logger
}

func NewLogReviewer(logger *slog.Logger) *LogReviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReviewer{logger: logger}
}

func (r *LogReviewer) PostReview(ctx context.Context, repo string, number int, summary string, findings []Finding) error {
	r.logger.Info("review posted",
		"repository", repo,
		"pull_number", number,
		"summary", summary,
		"findings", len(findings))
	return nil
}
