// Package orchestrator runs a set of benchmark jobs on a fixed pool of
// pinned workers.
//
// Architecture notes:
//   - The dispatcher hands out jobs in expansion order; each worker owns one
//     core and runs one job at a time through a JobRunner.
//   - The skip heuristic prunes jobs that a smaller failed job already
//     rules out. Skipped jobs are reported but never run.
//   - The controller turns the first interrupt into "stop dispatching".
//     In-flight runners are never killed and later interrupts are ignored.
//   - Verify cross-checks exact aligners against each other and scores
//     approximate aligners against the exact costs.
package orchestrator
