// Package orchestrate executes task graphs against the expert registry.
//
// The engine schedules ready tasks onto a bounded worker pool, enforces
// per-task deadlines, skips or degrades dependents of failed tasks, and
// compensates succeeded tasks in reverse completion order when a run
// must abort. Progress flows through a single-writer event queue so
// emission never blocks task execution while still preserving causal
// order.
package orchestrate
