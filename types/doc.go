// Package types defines the shared domain model of the Juniper core:
// episodes, turns, memory facts, the uniform expert invocation contract,
// and the unified error taxonomy used across packages.
package types
