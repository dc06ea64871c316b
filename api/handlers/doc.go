// Package handlers implements the HTTP handlers for the Juniper API:
// assist (plain, SSE, and websocket variants), memory, episode
// inspection, and health.
package handlers
