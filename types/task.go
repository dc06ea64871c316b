package types

// TaskState is the lifecycle state of one task node in a run.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskRunning    TaskState = "running"
	TaskSucceeded  TaskState = "succeeded"
	TaskFailed     TaskState = "failed"
	TaskRolledBack TaskState = "rolled_back"
	TaskSkipped    TaskState = "skipped"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskRolledBack, TaskSkipped:
		return true
	}
	return false
}

// RunStatus is the aggregated outcome of an orchestration run.
type RunStatus string

const (
	// RunSucceeded means every task succeeded.
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means the run was only partly carried out: some tasks
	// succeeded with usable results, or some were skipped and never
	// attempted.
	RunPartial RunStatus = "partial"
	// RunFailed means nothing usable came out of the run; any succeeded
	// task with a rollback action was compensated.
	RunFailed RunStatus = "failed"
	// RunCancelled means the caller cancelled the run before it could
	// finish.
	RunCancelled RunStatus = "cancelled"
)
