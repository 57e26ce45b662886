package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACReconcile is the task type for privileged-role reconciliation.
	TaskRBACReconcile = "rbac:reconcile"
	// TaskAuditHighRiskDigest is the task type for the daily high-risk audit scan.
	TaskAuditHighRiskDigest = "audit:highrisk_digest"
)

// NewReconcileTask constructs the reconciliation task. It carries no
// payload: the worker reconciles against the full declared catalog.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskRBACReconcile, nil)
}

// NewHighRiskDigestTask constructs the daily digest task.
func NewHighRiskDigestTask() *asynq.Task {
	return asynq.NewTask(TaskAuditHighRiskDigest, nil)
}
