package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/jobs"
)

// Enqueuer submits tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	retention time.Duration
}

// NewJobsCLI initialises the CLI helpers.
func NewJobsCLI(client Enqueuer, inspector Inspector, retention time.Duration) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, retention: retention}
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var (
		task *asynq.Task
		err  error
	)
	switch name {
	case jobs.TaskBorrowOverdueScan:
		task = jobs.NewOverdueScanTask()
	case jobs.TaskBadgeRecompute:
		task = jobs.NewBadgeRecomputeTask()
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(c.retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// Run executes `jobs trigger <name>` or `jobs stats` and returns the exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: odyssey jobs trigger <task-type> | odyssey jobs stats")
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: odyssey jobs trigger <task-type>")
			return 2
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := c.InspectQueue()
		if err != nil {
			fmt.Fprintf(stderr, "inspect queue: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}
