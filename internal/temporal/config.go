package temporal

import (
	"fmt"
	"time"

	"github.com/stanstork/uxlens-api/internal/jobs"
)

// TaskQueueName is the Temporal task queue serving UXLens background jobs.
const TaskQueueName = "UXLENS_JOBS"

// JobWorkflowIDPrefix prefixes every job workflow ID.
const JobWorkflowIDPrefix = "uxlens-"

const (
	JobWorkflowName    = "JobWorkflow"
	RunJobActivityName = "RunJobActivity"
)

// DefaultActivityTimeout bounds a single job run.
const DefaultActivityTimeout = 30 * time.Minute

// HeartbeatInterval is how often a running job reports liveness. Cancellation
// reaches the activity on the next heartbeat.
const HeartbeatInterval = 5 * time.Second

// JobParams is the workflow and activity input.
type JobParams struct {
	Kind jobs.Kind
	ID   string
}

// WorkflowID is stable per kind and entity so a cancel can find the run.
func WorkflowID(kind jobs.Kind, id string) string {
	return fmt.Sprintf("%s%s-%s", JobWorkflowIDPrefix, kind, id)
}
