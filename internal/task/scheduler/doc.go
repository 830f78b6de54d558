// Package scheduler runs named periodic jobs on robfig/cron.
//
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still in flight is skipped. Panics inside a job are recovered and
// logged.
package scheduler
