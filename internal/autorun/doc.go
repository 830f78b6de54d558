// Package autorun schedules per-user auto-run tasks.
//
// One Runner exists per task kind. A running (user, kind) pair owns a Run
// State and a timer; each tick executes one roll batch, folds the results
// into the Run State and re-arms the timer. Run States are checkpointed by
// the Coordinator's periodic autosave and on shutdown, and the Restorer
// resumes them after a restart.
//
// Checkpoint writes go through a single Persister, so a stop-time removal is
// never undone by a slower autosave.
package autorun
