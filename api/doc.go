// Package api defines the JSON request and response types exposed by
// the Juniper HTTP surface.
//
// The HTTP API covers three areas:
//   - Assist: submit a free-form request, receive a synthesized reply
//     (optionally streamed over SSE or a websocket)
//   - Memory: remember facts and recall them with time-aware ranking
//   - Episodes: inspect conversational context windows
//
// Handlers live in the api/handlers subpackage; this package holds only
// the wire types so clients can import them without pulling in server
// dependencies.
package api
