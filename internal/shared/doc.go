// Package shared holds helpers used across packages that belong to no
// single layer.
//
// The testutil subpackage provides a capturing slog handler so tests can
// assert on what a component logged, including attributes added with
// Logger.With:
//
//	logger, logs := testutil.NewTestLogger(t)
//	sched := linkage.NewScheduler(2, logger)
//	...
//	failed := logs.Find("Lag failed")
//
// Only test code imports testutil.
package shared
