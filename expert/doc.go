// Package expert provides the registry of capability handlers and the
// uniform invocation interface the orchestration engine calls them
// through. Dispatch is a registry lookup plus a uniform request/response
// call; experts keep their own business logic behind the contract.
package expert
