package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/northwire-isp/northwire/internal/jobs"
)

// HighRiskDigestJob summarises the high-risk audit entries written in
// the last day, for operator review and alerting.
type HighRiskDigestJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewHighRiskDigestJob initialises the digest handler.
func NewHighRiskDigestJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *HighRiskDigestJob {
	return &HighRiskDigestJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the digest scan.
func (j *HighRiskDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("highrisk digest: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditHighRiskDigest)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since := j.clock().Add(-24 * time.Hour)
	rows, err := j.Pool.Query(ctx,
		`SELECT entity_type, COUNT(*) FROM audit_log WHERE risk_level = 'high' AND ts >= $1 GROUP BY entity_type ORDER BY entity_type`,
		since)
	if err != nil {
		resultErr = err
		return resultErr
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			resultErr = err
			return resultErr
		}
		total += count
		j.Metrics.AddHighRisk(entityType, count)
		if j.Logger != nil {
			j.Logger.Info("highrisk digest",
				slog.String("entity_type", entityType),
				slog.Int("entries", count),
				slog.Time("since", since))
		}
	}
	if err := rows.Err(); err != nil {
		resultErr = err
		return resultErr
	}
	if total == 0 && j.Logger != nil {
		j.Logger.Info("highrisk digest clean", slog.Time("since", since))
	}
	return nil
}
