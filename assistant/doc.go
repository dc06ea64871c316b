// Package assistant wires the pipeline together: episode bookkeeping,
// decay-weighted recall, decomposition, orchestration, and synthesis of
// the final reply. It is the facade the transport layer talks to.
package assistant
