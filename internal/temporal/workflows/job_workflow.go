package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	uxtemporal "github.com/stanstork/uxlens-api/internal/temporal"
)

// JobWorkflow runs one background job as a single activity. Job handlers
// record their own outcome, so the activity is never retried.
func JobWorkflow(ctx workflow.Context, params uxtemporal.JobParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: uxtemporal.DefaultActivityTimeout,
		HeartbeatTimeout:    3 * uxtemporal.HeartbeatInterval,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting job workflow", "kind", params.Kind, "id", params.ID)

	if err := workflow.ExecuteActivity(ctx, uxtemporal.RunJobActivityName, params).Get(ctx, nil); err != nil {
		logger.Error("Job activity failed.", "kind", params.Kind, "id", params.ID, "error", err)
		return err
	}

	logger.Info("Job workflow completed.", "kind", params.Kind, "id", params.ID)
	return nil
}
