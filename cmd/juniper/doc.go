// Command juniper runs the assistant backend: the HTTP API on one
// port, Prometheus metrics on another, and the episodic memory sweep
// in the background.
//
// Usage:
//
//	juniper serve                      # start the server
//	juniper serve --config config.yaml # with a config file
//	juniper migrate up                 # apply database migrations
//	juniper version                    # print build info
//	juniper health                     # probe a running server
package main
