// Package job runs one scheduled job through its lifecycle.
//
// A Task wraps a Handler, validates the job parameters in Init and drives
// BeforeExecution, OnExecution and AfterExecution in Execute. Failures are
// classified into *Error values so the host only ever sees declared task
// errors. On success a configured dependent job is started through the
// SchedulerService.
//
// Cancellation is cooperative. Stop prevents phases that have not started
// from running; it never interrupts a running phase. A long OnExecution must
// poll Task.Stopped (or watch its ctx, which is cancelled on stop) between
// units of work.
package job
