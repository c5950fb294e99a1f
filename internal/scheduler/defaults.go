package scheduler

import "docflow/internal/store"

// TaskDefinition describes a task seeded at initialization.
type TaskDefinition struct {
	Name     string
	JobType  store.JobType
	Schedule string
}

// DefaultTasks is the fixed set of jobs every deployment runs.
var DefaultTasks = []TaskDefinition{
	{Name: "document-expiration-check", JobType: store.JobTypeExpirationCheck, Schedule: "0 * * * *"},
	{Name: "database-backup", JobType: store.JobTypeBackup, Schedule: "0 2 * * *"},
	{Name: "log-cleanup", JobType: store.JobTypeLogCleanup, Schedule: "0 3 * * 0"},
	{Name: "lock-cleanup", JobType: store.JobTypeLockCleanup, Schedule: "0 */6 * * *"},
}
