// Package memory implements the episode store and the temporal memory
// manager: episode lifecycle (begin/continue, idle expiry, summarization),
// append-only turns, and decay-weighted temporal search over memory facts.
//
// Storage backends:
//   - memory: mutex-guarded maps, the development and test default
//   - database: GORM over postgres/mysql/sqlite
//   - redis: hashes plus sorted-set indexes for distributed deployments
//
// The "at most one active episode per (owner, context kind)" invariant is
// enforced by the manager's keyed locks; the database backend additionally
// guards status transitions with conditional updates.
package memory
