// Package decompose turns a free-form user request into a task graph.
//
// A request is split into intent clauses on coordinating conjunctions,
// each clause is matched against the expert registry's capability
// descriptors, and sequential connectives ("then") become dependency
// edges. The resulting Graph is validated to be acyclic before the
// orchestration engine ever sees it.
package decompose
