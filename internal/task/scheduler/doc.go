// Package scheduler owns the registered jobs of a host.
//
// It resolves job kinds through a job.Registry, turns schedules into cron
// triggers, and hands every invocation to the task engine. It also serves
// as the job.SchedulerService that running jobs talk back to: status,
// manual triggers, and parameter updates that are persisted through
// storage.
package scheduler
