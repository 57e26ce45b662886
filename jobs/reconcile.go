package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/northwire-isp/northwire/internal/jobs"
	"github.com/northwire-isp/northwire/internal/rbac"
)

// Reconciler is the slice of the RBAC core the job needs.
type Reconciler interface {
	EnsurePrivilegedRole(ctx context.Context, actorID int64, allCodes []string) (rbac.Role, error)
}

// ReconcileJob keeps the privileged role in step with the declared
// permission catalog on a schedule, complementing the startup run.
type ReconcileJob struct {
	Reconciler Reconciler
	Catalog    func() []string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(reconciler Reconciler, catalog func() []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Catalog: catalog, Logger: logger, Metrics: metrics}
}

// Handle executes one reconciliation run.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil || j.Catalog == nil {
		return errors.New("reconcile: handler not configured")
	}
	tracker := j.Metrics.Track(TaskRBACReconcile)
	role, err := j.Reconciler.EnsurePrivilegedRole(ctx, rbac.SystemActorID, j.Catalog())
	if err = tracker.End(err); err != nil {
		if j.Logger != nil {
			j.Logger.Error("rbac reconcile", slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("rbac reconcile complete",
			slog.Int64("role_id", role.ID),
			slog.Int("permissions", len(role.PermissionCodes)))
	}
	return nil
}
