// Package app wires configuration, telemetry and the linkage packages into
// one run.
//
// # Run sequence
//
//	1. Validate configuration and check that every input exists
//	2. Initialize OpenTelemetry and, when configured, the status server
//	3. Load the survey and attach the residential history
//	4. Discover and validate the contextual files
//	5. Join every lag into the temp directory
//	6. Merge the lag files onto the survey and write the output
//	7. Remove the temp directory unless it is kept
//
// Progress of each step is published on Application.Board, which the
// status server reads.
//
// # Error Handling
//
// Errors are returned to the caller; the package never exits the process.
// A lag that fails inside the batch is counted in the summary and does
// not fail the run. A row misalignment during the merge does.
package app
